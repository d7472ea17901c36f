// Skillctxd is the skill-guidance daemon.
//
// It loads skill documents from a directory, serves the augmentation API
// over HTTP and reloads the skills when the directory changes.
//
// Configuration is read from ~/.config/skillctx/config.yaml (or --config)
// and SKILLCTX_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	skillctxd
//
//	# Configure via environment
//	SKILLCTX_SERVER_HTTP_PORT=9292 SKILLCTX_REGISTRY_PATH=./skills skillctxd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/skillctx/internal/config"
	httpserver "github.com/fyrsmithlabs/skillctx/internal/http"
	"github.com/fyrsmithlabs/skillctx/internal/logging"
	"github.com/fyrsmithlabs/skillctx/internal/services"
	"github.com/fyrsmithlabs/skillctx/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  skillctxd           Start the skillctx daemon\n")
			fmt.Fprintf(os.Stderr, "  skillctxd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("skillctxd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
//  1. Initializes telemetry and the logger
//  2. Builds the engine (registry, matcher, compression, quality, cache)
//  3. Starts the skill directory watcher
//  4. Serves HTTP until shutdown
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting skillctxd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("skills", cfg.Registry.Path),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
	)

	svc, err := services.New(ctx, cfg, services.Options{
		Logger:            logger,
		Telemetry:         tel,
		PrometheusMetrics: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := svc.Watch(ctx); err != nil {
		logger.Warn(ctx, "skill directory watch unavailable", zap.Error(err))
	}
	svc.StartJanitor(ctx)

	srv, err := httpserver.NewServer(svc.Assembler, logger.Named("http"), &httpserver.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Version:   version,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		BodyLimit: cfg.Server.BodyLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}
	return <-errCh
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Endpoint = cfg.Telemetry.Endpoint
	tc.Protocol = cfg.Telemetry.Protocol
	tc.Insecure = cfg.Telemetry.Insecure
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	tc.SamplingRate = cfg.Telemetry.SamplingRate
	return telemetry.New(ctx, tc)
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OTEL)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lc, tel.LoggerProvider())
}
