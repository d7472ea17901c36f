// Package assembler builds the tool-guidance message for an outgoing chat
// request.
//
// One pass takes the last user message as the query, ranks skills with the
// matcher and renders one block per match:
//
//	complex tool, first time in session  classify, compress, score, cache  (full or summary)
//	complex tool, already injected       reference block with reminders
//	standard tool                        name, description and one hint
//
// The blocks, the execution guidance and the original request form a single
// system message inserted right before the last user message. Augment never
// fails: any problem leaves the messages untouched.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillctx/internal/cache"
	"github.com/fyrsmithlabs/skillctx/internal/compression"
	"github.com/fyrsmithlabs/skillctx/internal/config"
	"github.com/fyrsmithlabs/skillctx/internal/logging"
	"github.com/fyrsmithlabs/skillctx/internal/matcher"
	"github.com/fyrsmithlabs/skillctx/internal/quality"
	"github.com/fyrsmithlabs/skillctx/internal/registry"
	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

const tracerName = "github.com/fyrsmithlabs/skillctx/internal/assembler"

// DefaultExecutionGuidance closes every augmentation message.
const DefaultExecutionGuidance = "Use the tool guidance above only where it helps with the request below, and follow the documented calling format exactly."

// ErrNoRegistry is returned by New when Options.Registry is nil.
var ErrNoRegistry = errors.New("assembler requires a skill registry")

// Config holds assembly settings.
type Config struct {
	ComplexTools      []string
	ExecutionGuidance string
	DefaultBudget     int
	ToolBudgets       map[string]int
	SummaryFactor     float64
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		ComplexTools:      []string{"python_sandbox", "chess_analysis", "mcp_tool_catalog"},
		ExecutionGuidance: DefaultExecutionGuidance,
		DefaultBudget:     4000,
		SummaryFactor:     0.5,
	}
}

// ConfigFrom extracts assembly settings from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ComplexTools:      cfg.Assembler.ComplexTools,
		ExecutionGuidance: cfg.Assembler.ExecutionGuidance,
		DefaultBudget:     cfg.Compression.DefaultBudget,
		ToolBudgets:       cfg.Compression.ToolBudgets,
		SummaryFactor:     cfg.Compression.SummaryFactor,
	}
}

func (c Config) budgetFor(toolName string) int {
	if b, ok := c.ToolBudgets[toolName]; ok && b > 0 {
		return b
	}
	return c.DefaultBudget
}

// SnapshotSource supplies the current registry snapshot.
type SnapshotSource interface {
	Current() (*registry.Snapshot, error)
}

type reloadCounter interface {
	Reloads() int64
}

// Options carries the assembler's collaborators. Only Registry is
// required; the rest default to fresh instances.
type Options struct {
	Registry   SnapshotSource
	Matcher    *matcher.Matcher
	Compressor *compression.Service
	Quality    *quality.Monitor
	Cache      *cache.Store
	Tracker    *cache.SessionTracker
	Logger     *logging.Logger
	Tracer     trace.Tracer
}

// Assembler augments chat requests. It is safe for concurrent use.
type Assembler struct {
	cfg        Config
	complex    map[string]struct{}
	registry   SnapshotSource
	matcher    *matcher.Matcher
	compressor *compression.Service
	quality    *quality.Monitor
	cache      *cache.Store
	tracker    *cache.SessionTracker
	logger     *logging.Logger
	tracer     trace.Tracer
}

// New creates an assembler.
func New(cfg Config, opts Options) (*Assembler, error) {
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}
	def := DefaultConfig()
	if cfg.ExecutionGuidance == "" {
		cfg.ExecutionGuidance = def.ExecutionGuidance
	}
	if cfg.DefaultBudget <= 0 {
		cfg.DefaultBudget = def.DefaultBudget
	}
	if cfg.SummaryFactor <= 0 || cfg.SummaryFactor > 1 {
		cfg.SummaryFactor = def.SummaryFactor
	}

	a := &Assembler{
		cfg:        cfg,
		complex:    make(map[string]struct{}, len(cfg.ComplexTools)),
		registry:   opts.Registry,
		matcher:    opts.Matcher,
		compressor: opts.Compressor,
		quality:    opts.Quality,
		cache:      opts.Cache,
		tracker:    opts.Tracker,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
	}
	for _, name := range cfg.ComplexTools {
		a.complex[name] = struct{}{}
	}

	if a.logger == nil {
		a.logger = logging.NewNop()
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(tracerName)
	}
	if a.matcher == nil {
		a.matcher = matcher.New(matcher.DefaultConfig(), nil)
	}
	if a.compressor == nil {
		svc, err := compression.NewService(nil, compression.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("creating compression service: %w", err)
		}
		a.compressor = svc
	}
	if a.quality == nil {
		a.quality = quality.NewMonitor(quality.DefaultConfig(), a.compressor, quality.WithLogger(a.logger))
	}
	if a.cache == nil {
		a.cache = cache.NewStore(cache.DefaultConfig())
	}
	if a.tracker == nil {
		a.tracker = cache.NewSessionTracker()
	}
	return a, nil
}

// Augment inserts tool guidance into req.Messages. It never fails; when
// nothing applies the returned messages equal the input.
func (a *Assembler) Augment(ctx context.Context, req Request) (res *Result) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx = logging.WithRequestID(ctx, req.RequestID)
	if req.SessionID != "" {
		ctx = logging.WithSessionID(ctx, req.SessionID)
	}

	ctx, span := a.tracer.Start(ctx, "assembler.augment", trace.WithAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("session.id", req.SessionID),
		attribute.Int("messages", len(req.Messages)),
	))
	res = &Result{RequestID: req.RequestID, Messages: req.Messages}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error(ctx, "augmentation failed, forwarding request unchanged", zap.String("panic", fmt.Sprint(r)))
			res = &Result{RequestID: req.RequestID, Messages: req.Messages, Reason: "internal error"}
		}
		res.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Bool("augmented", res.Augmented),
			attribute.Int("injections", len(res.Injections)),
		)
		span.End()
	}()

	idx := lastUserIndex(req.Messages)
	if idx < 0 {
		res.Reason = ReasonNoUserMessage
		return res
	}
	query := req.Messages[idx].Content

	snap, err := a.registry.Current()
	if err != nil {
		a.logger.Warn(ctx, "skill registry unavailable, skipping augmentation", zap.Error(err))
		res.Reason = ReasonNoRegistry
		return res
	}
	if snap.Len() == 0 {
		a.logger.Warn(ctx, "skill registry is empty, skipping augmentation")
		res.Reason = ReasonEmptyRegistry
		return res
	}

	matches := a.matcher.Match(query, snap, matcher.Context{
		Category:       req.Category,
		SessionID:      req.SessionID,
		AvailableTools: req.AvailableTools,
	})
	res.Matches = matches
	span.SetAttributes(attribute.Int("matches", len(matches)))
	if len(matches) == 0 {
		a.logger.Debug(ctx, "no relevant skills for query")
		res.Reason = ReasonNoMatches
		return res
	}

	hasPrimary := matches[0].IsPrimary
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		var (
			block string
			inj   Injection
		)
		if a.isComplex(m.ToolName) {
			block, inj = a.complexBlock(ctx, req.SessionID, query, m, hasPrimary)
		} else {
			block, inj = standardBlock(m, query)
		}
		if block == "" {
			continue
		}
		blocks = append(blocks, block)
		res.Injections = append(res.Injections, inj)
	}
	if len(blocks) == 0 {
		res.Reason = ReasonNoMatches
		return res
	}

	res.Messages = insertBefore(req.Messages, idx, Message{
		Role:    RoleSystem,
		Content: a.compose(blocks, query),
	})
	res.Augmented = true
	a.logger.Info(ctx, "request augmented",
		zap.Int("injections", len(res.Injections)),
		zap.String("primary", matches[0].ToolName),
	)
	return res
}

func (a *Assembler) isComplex(toolName string) bool {
	_, ok := a.complex[toolName]
	return ok
}

func (a *Assembler) complexBlock(ctx context.Context, sessionID, query string, m matcher.Match, hasPrimary bool) (string, Injection) {
	doc := m.Skill
	ctx = logging.WithToolName(ctx, doc.ToolName)
	inj := Injection{ToolName: doc.ToolName, Score: m.Score, IsPrimary: m.IsPrimary}

	if a.tracker.WasInjected(sessionID, doc.ToolName) {
		block := a.referenceBlock(sessionID, doc)
		inj.Mode = ModeReference
		inj.Size = textutil.RuneLen(block)
		a.logger.Debug(ctx, "tool already injected in session, using reference")
		return block, inj
	}

	inj.Mode, inj.Budget = ModeFull, a.cfg.budgetFor(doc.ToolName)
	if hasPrimary && !m.IsPrimary {
		inj.Mode = ModeSummary
		inj.Budget = int(float64(inj.Budget) * a.cfg.SummaryFactor)
	}

	analysis := a.compressor.Classify(doc.Content)
	inj.ContentType = analysis.Type
	inj.OriginalSize = analysis.Length
	key := a.cache.MakeKey(doc.ToolName, analysis.Type, sessionID, query)

	var content string
	if entry, ok := a.cache.Get(key); ok {
		content = entry.Content
		inj.CacheHit = true
		inj.Strategy = entry.Strategy
		inj.QualityScore = entry.QualityScore
	} else {
		creq := compression.Request{
			ToolName:   doc.ToolName,
			Content:    doc.Content,
			Query:      query,
			Budget:     inj.Budget,
			Analysis:   &analysis,
			References: doc.References,
		}
		eval := a.quality.Evaluate(ctx, creq, a.compressor.Compress(ctx, creq))
		out := eval.Result
		content = out.Content
		inj.Strategy = out.Strategy
		inj.QualityScore = eval.Score
		inj.FellBack = eval.FellBack || out.FellBack
		if strings.TrimSpace(content) != "" {
			a.cache.Set(key, cache.Value{
				Content:      content,
				Strategy:     out.Strategy,
				OriginalSize: out.OriginalSize,
				QualityScore: eval.Score,
			})
		}
	}

	if strings.TrimSpace(content) == "" {
		a.logger.Warn(ctx, "compressed guide is empty, skipping tool")
		return "", inj
	}
	if inj.Mode == ModeFull {
		a.tracker.MarkInjected(sessionID, doc.ToolName)
	}
	inj.Size = textutil.RuneLen(content)
	return fmt.Sprintf(guideHeader, doc.Name(), doc.ToolName) + content, inj
}

func (a *Assembler) compose(blocks []string, query string) string {
	var b strings.Builder
	b.WriteString(strings.Join(blocks, blockSeparator))
	b.WriteString("\n\n")
	b.WriteString(a.cfg.ExecutionGuidance)
	b.WriteString("\n\n")
	b.WriteString(userRequestLabel)
	b.WriteString(query)
	return b.String()
}

// EndSession forgets a session's injections and cached guides. It is
// idempotent and returns the number of cache entries removed.
func (a *Assembler) EndSession(ctx context.Context, sessionID string) int {
	if sessionID == "" {
		return 0
	}
	ctx = logging.WithSessionID(ctx, sessionID)
	tracked := a.tracker.Clear(sessionID)
	removed := a.cache.DeleteSession(sessionID)
	if tracked || removed > 0 {
		a.logger.Info(ctx, "session ended", zap.Int("cache_entries_removed", removed))
	}
	return removed
}

// Status reports cache, session, quality and registry figures.
func (a *Assembler) Status() Status {
	st := Status{
		Cache:          a.cache.Stats(),
		ActiveSessions: a.tracker.Sessions(),
		Quality:        a.quality.Report(),
	}
	if snap, err := a.registry.Current(); err == nil {
		st.RegistryLoaded = true
		st.Documents = snap.Len()
		st.RegistryLoadedAt = snap.LoadedAt()
	}
	if rc, ok := a.registry.(reloadCounter); ok {
		st.RegistryReloads = rc.Reloads()
	}
	return st
}

// Session reports the tools that received a full injection in sessionID.
// It returns false for an unknown session.
func (a *Assembler) Session(sessionID string) (SessionInfo, bool) {
	tools := a.tracker.Tools(sessionID)
	if len(tools) == 0 {
		return SessionInfo{}, false
	}
	info := SessionInfo{SessionID: sessionID, Tools: make([]ToolInjection, 0, len(tools))}
	for _, name := range tools {
		at, _ := a.tracker.InjectedAt(sessionID, name)
		info.Tools = append(info.Tools, ToolInjection{ToolName: name, InjectedAt: at})
	}
	return info, true
}

// Matcher returns the matcher in use.
func (a *Assembler) Matcher() *matcher.Matcher { return a.matcher }

// Compressor returns the compression service in use.
func (a *Assembler) Compressor() *compression.Service { return a.compressor }

func lastUserIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser && strings.TrimSpace(msgs[i].Content) != "" {
			return i
		}
	}
	return -1
}

func insertBefore(msgs []Message, idx int, m Message) []Message {
	return slices.Insert(slices.Clone(msgs), idx, m)
}
