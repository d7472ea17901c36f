// Package services builds the skillctx engine from configuration.
//
// New constructs every component once, in dependency order, so the daemon
// and the CLI share the same wiring:
//
//	registry -> matcher -> compression -> quality -> cache/tracker -> assembler
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillctx/internal/assembler"
	"github.com/fyrsmithlabs/skillctx/internal/cache"
	"github.com/fyrsmithlabs/skillctx/internal/compression"
	"github.com/fyrsmithlabs/skillctx/internal/config"
	"github.com/fyrsmithlabs/skillctx/internal/logging"
	"github.com/fyrsmithlabs/skillctx/internal/matcher"
	"github.com/fyrsmithlabs/skillctx/internal/quality"
	"github.com/fyrsmithlabs/skillctx/internal/registry"
	"github.com/fyrsmithlabs/skillctx/internal/telemetry"
)

// ErrNoSkillSource indicates neither registry.path nor a loader was given.
var ErrNoSkillSource = errors.New("no skill source configured")

// Options overrides parts of the wiring.
type Options struct {
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
	// Loader replaces the directory loader built from registry.path.
	Loader registry.Loader
	// PrometheusMetrics registers cache and session metrics on the default
	// Prometheus registry.
	PrometheusMetrics bool
}

// Services holds every engine component.
type Services struct {
	Registry   *registry.Registry
	Matcher    *matcher.Matcher
	Compressor *compression.Service
	Quality    *quality.Monitor
	Cache      *cache.Store
	Tracker    *cache.SessionTracker
	Assembler  *assembler.Assembler

	cfg    *config.Config
	logger *logging.Logger
}

// New builds the engine. A failed initial registry load is logged and left
// for a later reload; augmentation is skipped until one succeeds.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Services, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	tel := opts.Telemetry

	loader := opts.Loader
	if loader == nil {
		if cfg.Registry.Path == "" {
			return nil, ErrNoSkillSource
		}
		loader = registry.DirLoader{Root: cfg.Registry.Path}
	}
	reg := registry.New(loader,
		registry.WithLoadTimeout(cfg.Registry.LoadTimeout.Duration()),
		registry.WithLogger(logger.Named("registry")),
	)
	if err := reg.Reload(ctx); err != nil {
		logger.Warn(ctx, "initial skill registry load failed, augmentation disabled until reload", zap.Error(err))
	}

	lexicon := matcher.DefaultLexicon()
	if cfg.Matcher.LexiconPath != "" {
		var err error
		if lexicon, err = matcher.LoadLexicon(cfg.Matcher.LexiconPath); err != nil {
			return nil, fmt.Errorf("loading lexicon: %w", err)
		}
	}
	m := matcher.New(matcher.Config{
		Threshold:        cfg.Matcher.Threshold,
		TopK:             cfg.Matcher.TopK,
		PrimaryGap:       cfg.Matcher.PrimaryGap,
		ExclusivePenalty: cfg.Matcher.ExclusivePenalty,
	}, lexicon)

	types, err := compression.TypeConfigsFrom(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("compression config: %w", err)
	}
	compressor, err := compression.NewService(types,
		compression.WithLogger(logger.Named("compression")),
		compression.WithTracer(tel.Tracer("skillctx/compression")),
		compression.WithMeter(tel.Meter("skillctx/compression")),
	)
	if err != nil {
		return nil, fmt.Errorf("creating compression service: %w", err)
	}

	monitor := quality.NewMonitor(quality.Config{
		MinScore:       cfg.Quality.MinScore,
		MinRatio:       cfg.Quality.MinRatio,
		FallbackFactor: cfg.Quality.FallbackFactor,
		LogSize:        cfg.Quality.LogSize,
	}, compressor,
		quality.WithLogger(logger.Named("quality")),
		quality.WithMeter(tel.Meter("skillctx/quality")),
	)

	var (
		storeOpts   []cache.StoreOption
		trackerOpts []cache.TrackerOption
	)
	if opts.PrometheusMetrics {
		metrics := cache.NewMetrics()
		storeOpts = append(storeOpts, cache.WithMetrics(metrics))
		trackerOpts = append(trackerOpts, cache.WithTrackerMetrics(metrics))
	}
	store := cache.NewStore(cache.Config{
		TTL:            cfg.Cache.TTL.Duration(),
		MaxEntries:     cfg.Cache.MaxEntries,
		QueryPrefixLen: cfg.Cache.QueryPrefixLen,
	}, storeOpts...)
	tracker := cache.NewSessionTracker(trackerOpts...)

	asm, err := assembler.New(assembler.ConfigFrom(cfg), assembler.Options{
		Registry:   reg,
		Matcher:    m,
		Compressor: compressor,
		Quality:    monitor,
		Cache:      store,
		Tracker:    tracker,
		Logger:     logger.Named("assembler"),
		Tracer:     tel.Tracer("skillctx/assembler"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating assembler: %w", err)
	}

	return &Services{
		Registry:   reg,
		Matcher:    m,
		Compressor: compressor,
		Quality:    monitor,
		Cache:      store,
		Tracker:    tracker,
		Assembler:  asm,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Watch starts hot reload of the skill directory when registry.watch is
// set. It stops when ctx is cancelled.
func (s *Services) Watch(ctx context.Context) error {
	if !s.cfg.Registry.Watch || s.cfg.Registry.Path == "" {
		return nil
	}
	if err := s.Registry.Watch(ctx, s.cfg.Registry.Path); err != nil {
		return fmt.Errorf("watching %s: %w", s.cfg.Registry.Path, err)
	}
	s.logger.Info(ctx, "watching skill directory", zap.String("path", s.cfg.Registry.Path))
	return nil
}

// StartJanitor purges expired cache entries once per cache TTL until ctx is
// cancelled.
func (s *Services) StartJanitor(ctx context.Context) {
	interval := s.cfg.Cache.TTL.Duration()
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Cache.PurgeExpired(); n > 0 {
					s.logger.Debug(ctx, "purged expired cache entries", zap.Int("removed", n))
				}
			}
		}
	}()
}

// Config returns the configuration the services were built from.
func (s *Services) Config() *config.Config {
	return s.cfg
}
