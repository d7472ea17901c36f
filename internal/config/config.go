// Package config loads skillctx configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete skillctx configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Registry    RegistryConfig    `koanf:"registry"`
	Matcher     MatcherConfig     `koanf:"matcher"`
	Compression CompressionConfig `koanf:"compression"`
	Quality     QualityConfig     `koanf:"quality"`
	Cache       CacheConfig       `koanf:"cache"`
	Assembler   AssemblerConfig   `koanf:"assembler"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
	BodyLimit string  `koanf:"body_limit"`
}

// RegistryConfig controls where skill documents are loaded from.
type RegistryConfig struct {
	Path        string   `koanf:"path"`
	Watch       bool     `koanf:"watch"`
	LoadTimeout Duration `koanf:"load_timeout"`
}

// MatcherConfig holds relevance scoring parameters.
type MatcherConfig struct {
	Threshold        float64 `koanf:"threshold"`
	TopK             int     `koanf:"top_k"`
	PrimaryGap       float64 `koanf:"primary_gap"`
	ExclusivePenalty float64 `koanf:"exclusive_penalty"`
	LexiconPath      string  `koanf:"lexicon_path"`
}

// CompressionConfig holds budgets and per-type overrides.
type CompressionConfig struct {
	DefaultBudget int                          `koanf:"default_budget"`
	ToolBudgets   map[string]int               `koanf:"tool_budgets"`
	SummaryFactor float64                      `koanf:"summary_factor"`
	Types         map[string]ContentTypeConfig `koanf:"types"`
}

// QualityConfig holds quality monitor parameters.
type QualityConfig struct {
	MinScore       float64 `koanf:"min_score"`
	MinRatio       float64 `koanf:"min_ratio"`
	FallbackFactor float64 `koanf:"fallback_factor"`
	LogSize        int     `koanf:"log_size"`
}

// CacheConfig holds compressed-guide cache parameters.
type CacheConfig struct {
	TTL            Duration `koanf:"ttl"`
	MaxEntries     int      `koanf:"max_entries"`
	QueryPrefixLen int      `koanf:"query_prefix_len"`
}

// AssemblerConfig holds prompt assembly settings.
type AssemblerConfig struct {
	ComplexTools      []string `koanf:"complex_tools"`
	ExecutionGuidance string   `koanf:"execution_guidance"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"`
	Insecure     bool    `koanf:"insecure"`
	ServiceName  string  `koanf:"service_name"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Defaults returns a configuration with every field populated.
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 10
	}
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "1M"
	}

	if cfg.Registry.LoadTimeout == 0 {
		cfg.Registry.LoadTimeout = Duration(5 * time.Second)
	}

	if cfg.Matcher.Threshold == 0 {
		cfg.Matcher.Threshold = 0.15
	}
	if cfg.Matcher.TopK == 0 {
		cfg.Matcher.TopK = 3
	}
	if cfg.Matcher.PrimaryGap == 0 {
		cfg.Matcher.PrimaryGap = 0.15
	}
	if cfg.Matcher.ExclusivePenalty == 0 {
		cfg.Matcher.ExclusivePenalty = 0.1
	}

	if cfg.Compression.DefaultBudget == 0 {
		cfg.Compression.DefaultBudget = 4000
	}
	if cfg.Compression.SummaryFactor == 0 {
		cfg.Compression.SummaryFactor = 0.5
	}

	if cfg.Quality.MinScore == 0 {
		cfg.Quality.MinScore = 0.5
	}
	if cfg.Quality.MinRatio == 0 {
		cfg.Quality.MinRatio = 0.7
	}
	if cfg.Quality.FallbackFactor == 0 {
		cfg.Quality.FallbackFactor = 1.5
	}
	if cfg.Quality.LogSize == 0 {
		cfg.Quality.LogSize = 200
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(10 * time.Minute)
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 500
	}
	if cfg.Cache.QueryPrefixLen == 0 {
		cfg.Cache.QueryPrefixLen = 20
	}

	if len(cfg.Assembler.ComplexTools) == 0 {
		cfg.Assembler.ComplexTools = []string{"python_sandbox", "chess_analysis", "mcp_tool_catalog"}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "skillctx"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit))
	}
	if c.Matcher.Threshold < 0 || c.Matcher.Threshold > 1 {
		errs = append(errs, fmt.Errorf("matcher.threshold must be within [0,1], got %v", c.Matcher.Threshold))
	}
	if c.Matcher.TopK < 1 {
		errs = append(errs, fmt.Errorf("matcher.top_k must be positive, got %d", c.Matcher.TopK))
	}
	if c.Matcher.ExclusivePenalty <= 0 || c.Matcher.ExclusivePenalty > 1 {
		errs = append(errs, fmt.Errorf("matcher.exclusive_penalty must be within (0,1], got %v", c.Matcher.ExclusivePenalty))
	}
	if c.Compression.DefaultBudget < 1 {
		errs = append(errs, errors.New("compression.default_budget must be positive"))
	}
	for tool, budget := range c.Compression.ToolBudgets {
		if budget < 1 {
			errs = append(errs, fmt.Errorf("compression.tool_budgets.%s must be positive, got %d", tool, budget))
		}
	}
	if c.Compression.SummaryFactor <= 0 || c.Compression.SummaryFactor > 1 {
		errs = append(errs, fmt.Errorf("compression.summary_factor must be within (0,1], got %v", c.Compression.SummaryFactor))
	}
	for name, tc := range c.Compression.Types {
		if tc.MaxRate < 0 || tc.MaxRate >= 1 {
			errs = append(errs, fmt.Errorf("compression.types.%s.max_rate must be within [0,1), got %v", name, tc.MaxRate))
		}
		if tc.Threshold > 0 && tc.MinPreserved > tc.Threshold {
			errs = append(errs, fmt.Errorf("compression.types.%s.min_preserved exceeds threshold", name))
		}
	}
	if c.Quality.MinRatio <= 0 || c.Quality.MinRatio > 1 {
		errs = append(errs, fmt.Errorf("quality.min_ratio must be within (0,1], got %v", c.Quality.MinRatio))
	}
	if c.Quality.FallbackFactor < 1 {
		errs = append(errs, fmt.Errorf("quality.fallback_factor must be >= 1, got %v", c.Quality.FallbackFactor))
	}
	if c.Cache.TTL.Duration() <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Cache.MaxEntries < 1 {
		errs = append(errs, errors.New("cache.max_entries must be positive"))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol))
	}

	return errors.Join(errs...)
}

// BudgetFor returns the character budget for a tool.
func (c *CompressionConfig) BudgetFor(toolName string) int {
	if b, ok := c.ToolBudgets[toolName]; ok && b > 0 {
		return b
	}
	return c.DefaultBudget
}
