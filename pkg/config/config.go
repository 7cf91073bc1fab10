// Package config holds the tunable limits and the viper-backed runtime
// configuration for the tinygarden server and processor.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultDataDir     = "./data/tinygarden"
	DefaultMaxMemoryMB = 48
)

// Event log defaults
const (
	DefaultMaxMemoryEntries = 1000
)

// Pipeline intervals and limits
const (
	PipelineInterval        = 1 * time.Hour
	BadgerGCInterval        = 10 * time.Minute
	DefaultHourlyCutoffDays = 7
)

// Query limits
const (
	QueryDefaultRecent  = 20
	QueryMaxRecent      = 1000
	QueryMaxWindowHours = 90 * 24
	QueryMaxBuckets     = 10000
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Config is the runtime configuration shared by cmd/server and cmd/processor.
type Config struct {
	Port             string `mapstructure:"port"`
	DataDir          string `mapstructure:"data_dir"`
	StateDir         string `mapstructure:"state_dir"`
	SessionsDir      string `mapstructure:"sessions_dir"`
	PricingPath      string `mapstructure:"pricing_path"`
	LogLevel         string `mapstructure:"log_level"`
	MaxMemoryEntries int    `mapstructure:"max_memory_entries"`
	MaxMemoryMB      int64  `mapstructure:"max_memory_mb"`
	HourlyCutoffDays int    `mapstructure:"hourly_cutoff_days"`
}

// Load reads configuration from TINYGARDEN_* environment variables and, when
// path is non-empty, a YAML config file. Environment wins over the file.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("port", DefaultPort)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("state_dir", "")
	v.SetDefault("sessions_dir", "")
	v.SetDefault("pricing_path", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_memory_entries", DefaultMaxMemoryEntries)
	v.SetDefault("max_memory_mb", DefaultMaxMemoryMB)
	v.SetDefault("hourly_cutoff_days", DefaultHourlyCutoffDays)

	v.SetEnvPrefix("TINYGARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.StateDir == "" {
		cfg.StateDir = cfg.DataDir + "/state"
	}
	if cfg.MaxMemoryEntries <= 0 {
		cfg.MaxMemoryEntries = DefaultMaxMemoryEntries
	}
	if cfg.HourlyCutoffDays <= 0 {
		cfg.HourlyCutoffDays = DefaultHourlyCutoffDays
	}

	return cfg, nil
}
