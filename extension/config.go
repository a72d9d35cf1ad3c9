package extension

import (
	"time"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/plugin"
)

// Config holds the rtp extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.rtp" or "rtp" keys).
type Config struct {
	// DisableMigrate skips the schema migration on start. The store is
	// still pinged and plugins still see OnInit.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// MaxAttempts bounds the read-evaluate-commit rounds per grant
	// (default: 8).
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`

	// PluginTimeout bounds each plugin hook call (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// HibernationMinInterval is the quiet period before a connection breaks
	// hibernation (default: 2h).
	HibernationMinInterval time.Duration `json:"hibernation_min_interval" mapstructure:"hibernation_min_interval" yaml:"hibernation_min_interval"`

	// NicePassMaxInterval is the follow-up window for a nice pass
	// (default: 10m).
	NicePassMaxInterval time.Duration `json:"nice_pass_max_interval" mapstructure:"nice_pass_max_interval" yaml:"nice_pass_max_interval"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:            rtp.DefaultMaxAttempts,
		PluginTimeout:          plugin.DefaultTimeout,
		HibernationMinInterval: 2 * time.Hour,
		NicePassMaxInterval:    10 * time.Minute,
	}
}
