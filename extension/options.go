package extension

import (
	"time"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/plugin"
	"github.com/xraph/rtp/store"
)

// Option configures the rtp Forge extension.
type Option func(*Extension)

// WithStore sets the store for the rtp engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes an rtp.Option through to the underlying engine.
func WithEngineOption(opt rtp.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an rtp plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, rtp.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate skips the schema migration on start. The store is
// still pinged and plugins still see OnInit.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithMaxAttempts bounds the read-evaluate-commit rounds per grant.
func WithMaxAttempts(n int) Option {
	return func(e *Extension) { e.config.MaxAttempts = n }
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.PluginTimeout = d }
}

// WithHibernationMinInterval sets the hibernation quiet period.
func WithHibernationMinInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.HibernationMinInterval = d }
}

// WithNicePassMaxInterval sets the nice-pass follow-up window.
func WithNicePassMaxInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.NicePassMaxInterval = d }
}
