package compression

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillctx/internal/logging"
	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

const (
	tracerName = "github.com/fyrsmithlabs/skillctx/internal/compression"
	meterName  = "compression"
)

// errStrategyPanic wraps a recovered panic from a strategy arm.
var errStrategyPanic = errors.New("strategy panicked")

// Service classifies and compresses skill documents. It is safe for
// concurrent use.
type Service struct {
	types  map[ContentType]TypeConfig
	logger *logging.Logger

	tracer trace.Tracer
	meter  metric.Meter

	operations metric.Int64Counter
	duration   metric.Float64Histogram
	rate       metric.Float64Histogram
	fallbacks  metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithMeter overrides the global meter.
func WithMeter(m metric.Meter) Option {
	return func(s *Service) { s.meter = m }
}

// NewService creates a compression service. Nil types selects
// DefaultTypeConfigs.
func NewService(types map[ContentType]TypeConfig, opts ...Option) (*Service, error) {
	s := &Service{
		types:  cloneTypeConfigs(types),
		logger: logging.NewNop(),
		tracer: otel.Tracer(tracerName),
		meter:  otel.Meter(meterName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return s, nil
}

func (s *Service) initMetrics() error {
	var err error

	s.operations, err = s.meter.Int64Counter(
		"compression.operations_total",
		metric.WithDescription("Compression operations by content type and strategy"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	s.duration, err = s.meter.Float64Histogram(
		"compression.duration_seconds",
		metric.WithDescription("Time spent compressing a document"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	s.rate, err = s.meter.Float64Histogram(
		"compression.rate",
		metric.WithDescription("Fraction of the original removed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	s.fallbacks, err = s.meter.Int64Counter(
		"compression.fallbacks_total",
		metric.WithDescription("Strategy failures that degraded to head truncation"),
		metric.WithUnit("{fallback}"),
	)
	return err
}

// TypeConfig returns the parameters used for a content type.
func (s *Service) TypeConfig(ct ContentType) TypeConfig {
	return s.types[ct]
}

// Classify analyzes content.
func (s *Service) Classify(content string) Analysis {
	return Classify(content)
}

// Compress classifies the request's content, decides a strategy and runs
// it. It never fails: strategy errors degrade to head truncation.
func (s *Service) Compress(ctx context.Context, req Request) *Result {
	analysis := s.analysis(req)
	tc := s.types[analysis.Type]
	decision := DecideStrategy(analysis, tc, req.Budget)
	return s.execute(ctx, req, analysis, decision)
}

// CompressWith runs a specific strategy at a specific target, bypassing
// DecideStrategy. A target at or above the content length returns the
// content unchanged.
func (s *Service) CompressWith(ctx context.Context, req Request, strategy Strategy, target int) *Result {
	analysis := s.analysis(req)
	decision := Decision{Strategy: StrategyNone, TargetSize: analysis.Length}
	if target > 0 && target < analysis.Length {
		decision = Decision{ShouldCompress: true, Strategy: strategy, TargetSize: target}
	}
	return s.execute(ctx, req, analysis, decision)
}

func (s *Service) analysis(req Request) Analysis {
	if req.Analysis != nil {
		return *req.Analysis
	}
	return Classify(req.Content)
}

func (s *Service) execute(ctx context.Context, req Request, analysis Analysis, decision Decision) *Result {
	ctx, span := s.tracer.Start(ctx, "compression.compress",
		trace.WithAttributes(
			attribute.String("tool.name", req.ToolName),
			attribute.String("content_type", string(analysis.Type)),
			attribute.String("strategy", string(decision.Strategy)),
			attribute.Int("original_size", analysis.Length),
			attribute.Int("target_size", decision.TargetSize),
		),
	)
	defer span.End()

	start := time.Now()
	res := &Result{
		ToolName:     req.ToolName,
		Content:      req.Content,
		ContentType:  analysis.Type,
		Strategy:     decision.Strategy,
		Decision:     decision,
		Analysis:     analysis,
		OriginalSize: analysis.Length,
	}

	if decision.ShouldCompress {
		s.run(ctx, req, analysis, decision, res)
	}

	res.CompressedSize = textutil.RuneLen(res.Content)
	res.CompressionRate = compressionRate(res.OriginalSize, res.CompressedSize)
	res.Duration = time.Since(start)

	attrs := metric.WithAttributes(
		attribute.String("content_type", string(res.ContentType)),
		attribute.String("strategy", string(res.Strategy)),
	)
	s.operations.Add(ctx, 1, attrs)
	s.duration.Record(ctx, res.Duration.Seconds(), attrs)
	s.rate.Record(ctx, res.CompressionRate, attrs)

	span.SetAttributes(
		attribute.Int("compressed_size", res.CompressedSize),
		attribute.Float64("compression_rate", res.CompressionRate),
		attribute.Bool("truncated", res.Truncated),
		attribute.Bool("fell_back", res.FellBack),
	)
	return res
}

func (s *Service) run(ctx context.Context, req Request, analysis Analysis, decision Decision, res *Result) {
	tc := s.types[analysis.Type]
	in := strategyInput{
		content:    req.Content,
		query:      req.Query,
		queryTerms: textutil.Tokenize(req.Query),
		references: referenceTexts(req.References),
		config:     tc,
		target:     decision.TargetSize,
	}

	body, err := s.apply(in, analysis.Type, decision.Strategy)
	if err == nil && strings.TrimSpace(body) == "" {
		err = ErrEmptyResult
	}
	strategy := decision.Strategy
	if err != nil {
		s.recordFallback(ctx, req.ToolName, analysis.Type, decision.Strategy, err)
		strategy = StrategyFallback
		body, _ = fallbackTruncate(in)
		res.FellBack = true
	}

	out, truncated := finalize(finalizeInput{
		body:        body,
		content:     req.Content,
		contentType: analysis.Type,
		config:      tc,
		target:      decision.TargetSize,
		forceMarker: strategy == StrategyFallback,
	})
	res.Content = out
	res.Strategy = strategy
	res.Truncated = truncated
}

// apply runs one strategy arm, converting panics into errors.
func (s *Service) apply(in strategyInput, ct ContentType, st Strategy) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errStrategyPanic, r)
		}
	}()

	fn, err := lookupStrategy(ct, st)
	if err != nil {
		return "", err
	}
	in.structure = parseStructure(in.content)
	return fn(in)
}

func (s *Service) recordFallback(ctx context.Context, tool string, ct ContentType, st Strategy, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, "strategy failed")
	s.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("content_type", string(ct)),
		attribute.String("strategy", string(st)),
	))
	s.logger.Warn(ctx, "compression strategy failed, falling back to truncation",
		zap.String("tool.name", tool),
		zap.String("content_type", string(ct)),
		zap.String("strategy", string(st)),
		zap.Error(err),
	)
}
