// Package quality scores compressed skill guides and recompresses the ones
// that lost too much.
//
// Each content type has a rubric of weighted boolean checks that sum to
// one. When a result scores below MinScore and kept less than MinRatio of
// the original, the monitor recompresses it with minimal_compress at a
// larger target. Every evaluation lands in a bounded ring log used for
// aggregate reporting only.
package quality

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillctx/internal/compression"
	"github.com/fyrsmithlabs/skillctx/internal/logging"
)

const meterName = "quality"

// NeutralScore is used when scoring itself fails.
const NeutralScore = 0.5

// Compressor is the part of the compression service the monitor needs.
type Compressor interface {
	CompressWith(ctx context.Context, req compression.Request, strategy compression.Strategy, target int) *compression.Result
	TypeConfig(ct compression.ContentType) compression.TypeConfig
}

// Config holds the fallback thresholds.
type Config struct {
	MinScore       float64
	MinRatio       float64
	FallbackFactor float64
	LogSize        int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinScore:       0.5,
		MinRatio:       0.7,
		FallbackFactor: 1.5,
		LogSize:        200,
	}
}

// Metric is one entry of the rolling quality log.
type Metric struct {
	ToolName           string                  `json:"tool_name"`
	ContentType        compression.ContentType `json:"content_type"`
	OriginalSize       int                     `json:"original_size"`
	CompressedSize     int                     `json:"compressed_size"`
	CompressionRate    float64                 `json:"compression_rate"`
	QualityScore       float64                 `json:"quality_score"`
	KeyElementsPresent []string                `json:"key_elements_present"`
	FellBack           bool                    `json:"fell_back"`
	RecordedAt         time.Time               `json:"recorded_at"`
}

// Evaluation is the outcome of Evaluate.
type Evaluation struct {
	// Result is the result to use: the input, or the recompressed one.
	Result *compression.Result `json:"result"`

	Score    float64 `json:"score"`
	Checks   []Check `json:"checks"`
	FellBack bool    `json:"fell_back"`

	// InitialScore is the score before any fallback.
	InitialScore float64 `json:"initial_score"`
}

// Monitor scores compression results. It is safe for concurrent use.
type Monitor struct {
	cfg        Config
	compressor Compressor
	logger     *logging.Logger
	now        func() time.Time

	scores    metric.Float64Histogram
	fallbacks metric.Int64Counter

	mu   sync.Mutex
	ring []Metric
	next int
	full bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMeter overrides the global meter.
func WithMeter(meter metric.Meter) Option {
	return func(m *Monitor) { m.initMetrics(meter) }
}

// WithClock sets the time source for log entries.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor that recompresses through compressor.
func NewMonitor(cfg Config, compressor Compressor, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.MinScore <= 0 {
		cfg.MinScore = def.MinScore
	}
	if cfg.MinRatio <= 0 {
		cfg.MinRatio = def.MinRatio
	}
	if cfg.FallbackFactor < 1 {
		cfg.FallbackFactor = def.FallbackFactor
	}
	if cfg.LogSize <= 0 {
		cfg.LogSize = def.LogSize
	}
	m := &Monitor{
		cfg:        cfg,
		compressor: compressor,
		logger:     logging.NewNop(),
		now:        time.Now,
		ring:       make([]Metric, cfg.LogSize),
	}
	m.initMetrics(otel.Meter(meterName))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) initMetrics(meter metric.Meter) {
	m.scores, _ = meter.Float64Histogram(
		"quality.score",
		metric.WithDescription("Quality score of compressed guides"),
		metric.WithUnit("1"),
	)
	m.fallbacks, _ = meter.Int64Counter(
		"quality.fallbacks_total",
		metric.WithDescription("Results recompressed after a low quality score"),
		metric.WithUnit("{fallback}"),
	)
}

// Evaluate scores res against the rubric for its content type and, when it
// is too poor, recompresses req with minimal_compress at a larger target,
// keeping whichever result scores higher. It never fails.
func (m *Monitor) Evaluate(ctx context.Context, req compression.Request, res *compression.Result) *Evaluation {
	if res == nil {
		return &Evaluation{Score: NeutralScore}
	}

	score, checks := m.Score(res, req.Query)
	eval := &Evaluation{Result: res, Score: score, Checks: checks, InitialScore: score}

	if m.shouldFallback(res, score) && m.compressor != nil {
		target := int(float64(res.Decision.TargetSize) * m.cfg.FallbackFactor)
		if target > res.OriginalSize || target <= 0 {
			target = res.OriginalSize
		}
		if res.Analysis.Length > 0 {
			analysis := res.Analysis
			req.Analysis = &analysis
		}

		retry := m.compressor.CompressWith(ctx, req, compression.StrategyMinimal, target)
		if retry != nil {
			retryScore, retryChecks := m.Score(retry, req.Query)
			if m.fallbacks != nil {
				m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("content_type", string(res.ContentType))))
			}
			fields := []zap.Field{
				zap.String("tool.name", res.ToolName),
				zap.String("content_type", string(res.ContentType)),
				zap.Float64("score", score),
				zap.Float64("retry_score", retryScore),
				zap.Int("target", target),
			}
			if retryScore >= score {
				m.logger.Warn(ctx, "low quality compression, recompressed with minimal strategy", fields...)
				eval.Result = retry
				eval.Score = retryScore
				eval.Checks = retryChecks
				eval.FellBack = true
			} else {
				m.logger.Warn(ctx, "low quality compression, retry scored lower and was discarded", fields...)
			}
		}
	}

	if m.scores != nil {
		m.scores.Record(ctx, eval.Score, metric.WithAttributes(
			attribute.String("content_type", string(eval.Result.ContentType)),
		))
	}
	m.record(eval)
	return eval
}

func (m *Monitor) shouldFallback(res *compression.Result, score float64) bool {
	if !res.Decision.ShouldCompress || res.OriginalSize == 0 {
		return false
	}
	return score < m.cfg.MinScore &&
		float64(res.CompressedSize) < m.cfg.MinRatio*float64(res.OriginalSize)
}

// Score rates res in [0,1]. A panic while scoring yields NeutralScore.
func (m *Monitor) Score(res *compression.Result, query string) (score float64, checks []Check) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(context.Background(), "quality scoring failed",
				zap.String("tool.name", res.ToolName),
				zap.String("panic", fmt.Sprint(r)),
			)
			score, checks = NeutralScore, nil
		}
	}()

	if !res.Decision.ShouldCompress {
		return 1, nil
	}
	var anchors []string
	if m.compressor != nil {
		anchors = m.compressor.TypeConfig(res.ContentType).Anchors
	}
	return evaluateRubric(rubricFor(res.ContentType), checkInput{
		content:  res.Content,
		query:    query,
		target:   res.Decision.TargetSize,
		anchors:  anchors,
		original: res.OriginalSize,
	})
}

func (m *Monitor) record(eval *Evaluation) {
	res := eval.Result
	var present []string
	for _, c := range eval.Checks {
		if c.Passed {
			present = append(present, c.Name)
		}
	}
	entry := Metric{
		ToolName:           res.ToolName,
		ContentType:        res.ContentType,
		OriginalSize:       res.OriginalSize,
		CompressedSize:     res.CompressedSize,
		CompressionRate:    res.CompressionRate,
		QualityScore:       eval.Score,
		KeyElementsPresent: present,
		FellBack:           eval.FellBack,
		RecordedAt:         m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = entry
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
}

// Recent returns logged metrics, oldest first.
func (m *Monitor) Recent() []Metric {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]Metric(nil), m.ring[:m.next]...)
	}
	out := make([]Metric, 0, len(m.ring))
	out = append(out, m.ring[m.next:]...)
	return append(out, m.ring[:m.next]...)
}
