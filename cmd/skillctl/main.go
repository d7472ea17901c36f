// Package main implements skillctl, the command-line companion to skillctxd.
//
// Offline commands (match, classify, compress, augment) build the engine
// in-process from a skills directory. Online commands (health, status,
// end-session) talk to a running daemon.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/skillctx/internal/assembler"
)

var (
	// serverURL is the base URL for the skillctxd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "skillctl",
		Short: "CLI for skill guidance matching, compression and the skillctxd server",
		Long: `skillctl inspects how skill documents are matched and compressed, and
manages a running skillctxd server.`,
		Version:       version,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:9191", "skillctxd server URL")

	root.AddCommand(newHealthCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newEndSessionCmd())
	addEngineCommands(root)
	return root
}

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse matches internal/http StatusResponse
type StatusResponse struct {
	Health  string `json:"status"`
	Version string `json:"version"`
	assembler.Status
}

// SessionResponse matches internal/http SessionResponse
type SessionResponse struct {
	SessionID           string `json:"session_id"`
	CacheEntriesRemoved int    `json:"cache_entries_removed"`
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check skillctxd server health",
		Long: `Check the health status of the skillctxd HTTP server.

Examples:
  # Check health
  skillctl health

  # Check health on a different server
  skillctl health --server http://localhost:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp HealthResponse
			if err := callServer(http.MethodGet, "/health", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache, session and quality statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp StatusResponse
			if err := callServer(http.MethodGet, "/api/v1/status", &resp); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			writeStatus(cmd.OutOrStdout(), &resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newEndSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end-session <session-id>",
		Short: "Forget a session's injected guides and cached entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp SessionResponse
			if err := callServer(http.MethodDelete, "/api/v1/sessions/"+args[0], &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s ended (%d cache entries removed)\n",
				resp.SessionID, resp.CacheEntriesRemoved)
			return nil
		},
	}
}

func writeStatus(w io.Writer, s *StatusResponse) {
	fmt.Fprintf(w, "Server:    %s (%s)\n", s.Health, s.Version)
	loaded := "not loaded"
	if s.RegistryLoaded {
		loaded = fmt.Sprintf("%d skills, loaded %s", s.Documents, s.RegistryLoadedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Registry:  %s\n", loaded)
	fmt.Fprintf(w, "Cache:     %d entries, %d hits, %d misses, %d evictions\n",
		s.Cache.Size, s.Cache.Hits, s.Cache.Misses, s.Cache.Evictions)
	fmt.Fprintf(w, "Sessions:  %d active\n", s.ActiveSessions)
	fmt.Fprintf(w, "Quality:   %d evaluations, avg %.2f, avg compression %.0f%%, %d fallbacks\n",
		s.Quality.Total, s.Quality.Overall.AvgQuality,
		s.Quality.Overall.AvgCompressionRate*100, s.Quality.Overall.Fallbacks)
}

// callServer sends a request to the daemon and decodes the JSON response into out.
func callServer(method, path string, out interface{}) error {
	url := serverURL + path
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
