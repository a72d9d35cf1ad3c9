// Package extension provides the Forge extension adapter for rtp.
//
// It implements the forge.Extension interface to integrate the rtp engine
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.rtp" or "rtp" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/store"
	"github.com/xraph/rtp/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "rtp"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Shiritori ritrin point ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the rtp engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *rtp.Engine
	store      store.Store
	engineOpts []rtp.Option
}

// New creates a new rtp Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying rtp engine.
// This is nil until Register is called.
func (e *Extension) Engine() *rtp.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = rtp.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*rtp.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("rtp: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("rtp: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs rtp.Option values from the resolved config.
// Pass-through options come last and win.
func (e *Extension) buildEngineOpts() []rtp.Option {
	opts := make([]rtp.Option, 0, len(e.engineOpts)+4)

	cfg := grant.DefaultConfig()
	cfg.HibernationMinInterval = e.config.HibernationMinInterval
	cfg.NicePassMaxInterval = e.config.NicePassMaxInterval
	opts = append(opts,
		rtp.WithGrantConfig(cfg),
		rtp.WithMaxAttempts(e.config.MaxAttempts),
		rtp.WithPluginTimeout(e.config.PluginTimeout),
	)
	if e.config.DisableMigrate {
		opts = append(opts, rtp.WithoutMigrate())
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("rtp: configuration is required but not found in config files; " +
				"ensure 'extensions.rtp' or 'rtp' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("rtp: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("max_attempts", e.config.MaxAttempts),
		forge.F("plugin_timeout", e.config.PluginTimeout),
		forge.F("hibernation_min_interval", e.config.HibernationMinInterval),
		forge.F("nice_pass_max_interval", e.config.NicePassMaxInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.rtp" first (namespaced pattern).
	if cm.IsSet("extensions.rtp") {
		if err := cm.Bind("extensions.rtp", &cfg); err == nil {
			e.Logger().Debug("rtp: loaded config from file",
				forge.F("key", "extensions.rtp"),
			)
			return cfg, true
		}
		e.Logger().Warn("rtp: failed to bind extensions.rtp config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "rtp" key.
	if cm.IsSet("rtp") {
		if err := cm.Bind("rtp", &cfg); err == nil {
			e.Logger().Debug("rtp: loaded config from file",
				forge.F("key", "rtp"),
			)
			return cfg, true
		}
		e.Logger().Warn("rtp: failed to bind rtp config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = defaults.PluginTimeout
	}
	if cfg.HibernationMinInterval == 0 {
		cfg.HibernationMinInterval = defaults.HibernationMinInterval
	}
	if cfg.NicePassMaxInterval == 0 {
		cfg.NicePassMaxInterval = defaults.NicePassMaxInterval
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.MaxAttempts == 0 && programmaticConfig.MaxAttempts != 0 {
		yamlConfig.MaxAttempts = programmaticConfig.MaxAttempts
	}
	if yamlConfig.PluginTimeout == 0 && programmaticConfig.PluginTimeout != 0 {
		yamlConfig.PluginTimeout = programmaticConfig.PluginTimeout
	}
	if yamlConfig.HibernationMinInterval == 0 && programmaticConfig.HibernationMinInterval != 0 {
		yamlConfig.HibernationMinInterval = programmaticConfig.HibernationMinInterval
	}
	if yamlConfig.NicePassMaxInterval == 0 && programmaticConfig.NicePassMaxInterval != 0 {
		yamlConfig.NicePassMaxInterval = programmaticConfig.NicePassMaxInterval
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
