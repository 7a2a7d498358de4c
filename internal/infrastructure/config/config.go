// Package config loads the layered service configuration: struct defaults,
// then an optional YAML file, then SENTINEL_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/kestrelwatch/sentinel/internal/domain/indicator"
	"github.com/kestrelwatch/sentinel/internal/domain/risk"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Indicators []IndicatorEntry `koanf:"indicators"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

type TelemetryConfig struct {
	TracingEnabled bool   `koanf:"tracing_enabled"`
	OTLPEndpoint   string `koanf:"otlp_endpoint"`
	ServiceName    string `koanf:"service_name"`
}

// ScoringConfig overrides pieces of the stock risk tables. Anything left
// empty falls back to the built-in matrix.
type ScoringConfig struct {
	SeasonalEnabled bool              `koanf:"seasonal_enabled"`
	Locations       map[string]string `koanf:"locations"`
	Actors          []string          `koanf:"actors"`
}

// IndicatorEntry configures one watched indicator.
type IndicatorEntry struct {
	ID               string   `koanf:"id"`
	Description      string   `koanf:"description"`
	TriggerThreshold string   `koanf:"trigger_threshold"`
	TriggerTerms     []string `koanf:"trigger_terms"`
	WarningThreshold int      `koanf:"warning_threshold"`
}

// Load layers defaults, the optional config file at path (empty means
// configs/config.yaml), and SENTINEL_ environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = "configs/config.yaml"
	}
	// The config file is optional; defaults plus env cover local runs.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("SENTINEL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SENTINEL_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 50,
				BurstSize:         100,
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			CacheTTL: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "sentinel",
		},
		Scoring: ScoringConfig{
			SeasonalEnabled: true,
		},
		Indicators: []IndicatorEntry{
			{
				ID:               "IND-SCS-001",
				Description:      "Unusual interest in supply chain personnel or facilities",
				TriggerThreshold: "Evidence of personnel being followed or photographed",
				TriggerTerms:     []string{"surveillance", "followed", "photographed"},
				WarningThreshold: 3,
			},
			{
				ID:               "IND-ACT-001",
				Description:      "Coordinated activism campaign targeting retail operations",
				TriggerThreshold: "Multiple protest announcements naming company locations",
				TriggerTerms:     []string{"protest", "boycott", "demonstration", "campaign"},
				WarningThreshold: 3,
			},
			{
				ID:               "IND-CYB-001",
				Description:      "Credentials or customer data offered on dark web markets",
				TriggerThreshold: "Verified listing referencing company systems",
				TriggerTerms:     []string{"credential", "breach", "leak", "dark web"},
				WarningThreshold: 2,
			},
		},
	}
}

// Tables builds the scoring lookup tables from the stock matrix plus any
// configured overrides.
func (c *Config) Tables() risk.Tables {
	tables := risk.DefaultTables()
	tables.SeasonalEnabled = c.Scoring.SeasonalEnabled

	if len(c.Scoring.Locations) > 0 {
		tables.Locations = make(map[string]risk.Tier, len(c.Scoring.Locations))
		for name, tier := range c.Scoring.Locations {
			tables.Locations[name] = risk.Tier(strings.ToUpper(tier))
		}
	}
	if len(c.Scoring.Actors) > 0 {
		tables.Actors = c.Scoring.Actors
	}
	return tables
}

// IndicatorDefs converts the configured entries into domain definitions.
func (c *Config) IndicatorDefs() []indicator.Definition {
	defs := make([]indicator.Definition, 0, len(c.Indicators))
	for _, entry := range c.Indicators {
		defs = append(defs, indicator.Definition{
			ID:               entry.ID,
			Description:      entry.Description,
			TriggerThreshold: entry.TriggerThreshold,
			TriggerTerms:     entry.TriggerTerms,
			WarningThreshold: entry.WarningThreshold,
		})
	}
	return defs
}
