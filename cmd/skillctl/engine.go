package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/skillctx/internal/assembler"
	"github.com/fyrsmithlabs/skillctx/internal/compression"
	"github.com/fyrsmithlabs/skillctx/internal/config"
	"github.com/fyrsmithlabs/skillctx/internal/logging"
	"github.com/fyrsmithlabs/skillctx/internal/matcher"
	"github.com/fyrsmithlabs/skillctx/internal/registry"
	"github.com/fyrsmithlabs/skillctx/internal/services"
)

// engineFlags are shared by the offline commands.
type engineFlags struct {
	configPath string
	skillsDir  string
	verbose    bool
}

func addEngineCommands(root *cobra.Command) {
	ef := &engineFlags{}
	cmds := []*cobra.Command{
		newMatchCmd(ef),
		newClassifyCmd(ef),
		newCompressCmd(ef),
		newAugmentCmd(ef),
	}
	for _, c := range cmds {
		c.Flags().StringVar(&ef.configPath, "config", "", "path to config file")
		c.Flags().StringVar(&ef.skillsDir, "skills", "", "skills directory (overrides registry.path)")
		c.Flags().BoolVarP(&ef.verbose, "verbose", "v", false, "log engine activity")
		root.AddCommand(c)
	}
}

// build loads configuration and constructs the engine in-process.
func (ef *engineFlags) build(ctx context.Context) (*services.Services, error) {
	cfg, err := config.Load(ef.configPath)
	if err != nil {
		return nil, err
	}
	if ef.skillsDir != "" {
		cfg.Registry.Path = ef.skillsDir
	}

	logger := logging.NewNop()
	if ef.verbose {
		lc, err := logging.FromSettings("debug", "console", false)
		if err != nil {
			return nil, err
		}
		if logger, err = logging.NewLogger(lc, nil); err != nil {
			return nil, err
		}
	}

	svc, err := services.New(ctx, cfg, services.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	if _, err := svc.Registry.Current(); err != nil {
		return nil, fmt.Errorf("failed to load skills from %q: %w", cfg.Registry.Path, err)
	}
	return svc, nil
}

func newMatchCmd(ef *engineFlags) *cobra.Command {
	var category string
	var tools []string
	cmd := &cobra.Command{
		Use:   "match <query>",
		Short: "Rank skills against a query",
		Long: `Rank the loaded skills against a query and show each score component.

Examples:
  skillctl match --skills ./skills "帮我画一个折线图"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ef.build(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := svc.Registry.Current()
			if err != nil {
				return err
			}
			matches := svc.Matcher.Match(strings.Join(args, " "), snap, matcher.Context{
				Category:       category,
				AvailableTools: tools,
			})
			writeMatches(cmd.OutOrStdout(), matches)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "request category hint")
	cmd.Flags().StringSliceVar(&tools, "tools", nil, "restrict to these tool names")
	return cmd
}

func writeMatches(w io.Writer, matches []matcher.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "No relevant skills")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tSCORE\tPRIMARY\tNAME\tINTENT\tKEYWORD\tSYNONYM")
	for _, m := range matches {
		b := m.Breakdown
		fmt.Fprintf(tw, "%s\t%.3f\t%t\t%.2f\t%.2f\t%.2f\t%.2f\n",
			m.ToolName, m.Score, m.IsPrimary, b.NameBonus, b.IntentBonus, b.Keyword, b.Synonym)
	}
	_ = tw.Flush()
}

func newClassifyCmd(ef *engineFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "classify [tool]",
		Short: "Show the content type of a skill document",
		Long: `Classify a loaded skill (by tool name) or any markdown file (--file).

Examples:
  skillctl classify --skills ./skills python_sandbox
  skillctl classify --file ./guide.md`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content string
			switch {
			case file != "":
				raw, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read file %s: %w", file, err)
				}
				content = string(raw)
			case len(args) == 1:
				svc, err := ef.build(cmd.Context())
				if err != nil {
					return err
				}
				if content, err = skillContent(svc, args[0]); err != nil {
					return err
				}
			default:
				return fmt.Errorf("either a tool name or --file is required")
			}
			return writeJSON(cmd.OutOrStdout(), compression.Classify(content))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "classify a markdown file instead of a loaded skill")
	return cmd
}

func newCompressCmd(ef *engineFlags) *cobra.Command {
	var (
		query    string
		budget   int
		showDiff bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "compress <tool>",
		Short: "Compress a skill's guide and score the result",
		Long: `Compress a loaded skill's guide with the configured strategy for its
content type, then run the quality check (with fallback) on the result.

Examples:
  # Print the compressed guide
  skillctl compress --skills ./skills python_sandbox --query "画一个饼图"

  # Show what was removed
  skillctl compress --skills ./skills python_sandbox --diff`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := ef.build(ctx)
			if err != nil {
				return err
			}
			doc, err := skillDocument(svc, args[0])
			if err != nil {
				return err
			}
			content := doc.Content
			if budget <= 0 {
				budget = svc.Config().Compression.BudgetFor(args[0])
			}

			req := compression.Request{ToolName: args[0], Content: content, Query: query, Budget: budget, References: doc.References}
			eval := svc.Quality.Evaluate(ctx, req, svc.Compressor.Compress(ctx, req))

			out := cmd.OutOrStdout()
			switch {
			case asJSON:
				return writeJSON(out, eval)
			case showDiff:
				return compression.Preview(out, content, eval.Result, compression.PreviewOptions{
					ShowMetrics: true,
					ColorOutput: isTerminal(out),
					Context:     3,
				})
			default:
				fmt.Fprintln(out, eval.Result.Content)
				fmt.Fprintf(cmd.ErrOrStderr(), "[skillctl] %s via %s: %d -> %d chars, quality %.2f\n",
					eval.Result.ContentType, eval.Result.Strategy,
					eval.Result.OriginalSize, eval.Result.CompressedSize, eval.Score)
				return nil
			}
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "user query used for relevance-aware strategies")
	cmd.Flags().IntVar(&budget, "budget", 0, "character budget (default from config)")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "show a line diff against the original")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the evaluation as JSON")
	return cmd
}

func newAugmentCmd(ef *engineFlags) *cobra.Command {
	var (
		sessionID string
		category  string
		tools     []string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "augment <query>",
		Short: "Show the guidance message that would be injected for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ef.build(cmd.Context())
			if err != nil {
				return err
			}
			res := svc.Assembler.Augment(cmd.Context(), assembler.Request{
				SessionID:      sessionID,
				Category:       category,
				AvailableTools: tools,
				Messages: []assembler.Message{
					{Role: assembler.RoleUser, Content: strings.Join(args, " ")},
				},
			})

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, res)
			}
			if !res.Augmented {
				fmt.Fprintf(out, "Not augmented: %s\n", res.Reason)
				return nil
			}
			for _, msg := range res.Messages {
				if msg.Role == assembler.RoleSystem {
					fmt.Fprintln(out, msg.Content)
				}
			}
			for _, inj := range res.Injections {
				fmt.Fprintf(cmd.ErrOrStderr(), "[skillctl] %s: %s mode, %d chars\n", inj.ToolName, inj.Mode, inj.Size)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&category, "category", "", "request category hint")
	cmd.Flags().StringSliceVar(&tools, "tools", nil, "restrict to these tool names")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func skillContent(svc *services.Services, toolName string) (string, error) {
	doc, err := skillDocument(svc, toolName)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

func skillDocument(svc *services.Services, toolName string) (*registry.Document, error) {
	snap, err := svc.Registry.Current()
	if err != nil {
		return nil, err
	}
	return snap.Get(toolName)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
