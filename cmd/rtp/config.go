package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/reaction"
	"github.com/xraph/rtp/store"
	"github.com/xraph/rtp/store/kv"
	"github.com/xraph/rtp/store/memory"
	"github.com/xraph/rtp/store/sqlite"
)

// Store backends selectable from the command line.
const (
	storeKV     = "kv"
	storeSQLite = "sqlite"
	storeMemory = "memory"
)

// config is loaded from defaults, then an optional YAML file, then RTP_*
// environment variables.
type config struct {
	ResourceDir string `yaml:"resource_dir" env:"RTP_RESOURCE_DIR"`
	Store       string `yaml:"store" env:"RTP_STORE"`
	DataDir     string `yaml:"data_dir" env:"RTP_DATA_DIR"`
	LogLevel    string `yaml:"log_level" env:"RTP_LOG_LEVEL"`

	MaxAttempts int `yaml:"max_attempts" env:"RTP_MAX_ATTEMPTS"`

	HibernationMinInterval time.Duration `yaml:"hibernation_min_interval" env:"RTP_HIBERNATION_MIN_INTERVAL"`
	NicePassMaxInterval    time.Duration `yaml:"nice_pass_max_interval" env:"RTP_NICE_PASS_MAX_INTERVAL"`

	ReactionDestinations []string      `yaml:"reaction_destinations" env:"RTP_REACTION_DESTINATIONS" envSeparator:","`
	ReactionTimeout      time.Duration `yaml:"reaction_timeout" env:"RTP_REACTION_TIMEOUT"`

	DailyRanking bool   `yaml:"daily_ranking" env:"RTP_DAILY_RANKING"`
	MetricsAddr  string `yaml:"metrics_addr" env:"RTP_METRICS_ADDR"`
}

func defaultConfig() config {
	gc := grant.DefaultConfig()
	return config{
		ResourceDir:            ".",
		Store:                  storeKV,
		LogLevel:               "info",
		MaxAttempts:            rtp.DefaultMaxAttempts,
		HibernationMinInterval: gc.HibernationMinInterval,
		NicePassMaxInterval:    gc.NicePassMaxInterval,
		ReactionTimeout:        reaction.DefaultTimeout,
		DailyRanking:           true,
	}
}

// loadConfig layers path (if non-empty) and the environment over the
// defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.ResourceDir, "data")
	}
	return cfg, nil
}

func (c config) grantConfig() grant.Config {
	gc := grant.DefaultConfig()
	gc.HibernationMinInterval = c.HibernationMinInterval
	gc.NicePassMaxInterval = c.NicePassMaxInterval
	return gc
}

func (c config) logLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

func (c config) newLogger() (*slog.Logger, error) {
	lvl, err := c.logLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func (c config) openStore() (store.Store, error) {
	switch strings.ToLower(c.Store) {
	case storeKV:
		if err := os.MkdirAll(c.DataDir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return kv.Open(c.DataDir)
	case storeSQLite:
		if err := os.MkdirAll(c.DataDir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return sqlite.Open(filepath.Join(c.DataDir, "rtp.db"))
	case storeMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q (want %s, %s or %s)", c.Store, storeKV, storeSQLite, storeMemory)
	}
}
