// Package extension provides the Forge extension adapter for Remittance.
//
// It implements the forge.Extension interface to integrate the remittance
// ledger into a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.remittance" or
// "remittance" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/api"
	"github.com/xraph/remittance/store"
	"github.com/xraph/remittance/store/backend"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "remittance"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Escrow-based remittance ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the remittance ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *remittance.Ledger
	store      store.Store
	handler    http.Handler
	ledgerOpts []remittance.Option
}

// New creates a new Remittance Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *remittance.Ledger { return e.engine }

// Handler returns the HTTP API, or nil when routes are disabled. Mount it
// under Config.BasePath.
func (e *Extension) Handler() http.Handler { return e.handler }

// Register implements [forge.Extension]. It loads configuration, opens the
// store, builds the ledger engine and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}
	if !e.config.DisableRoutes && e.config.JWTSecret == "" {
		return errors.New("remittance: jwt_secret is required unless routes are disabled")
	}

	if e.store == nil {
		s, err := backend.Open(context.Background(), e.config.Store)
		if err != nil {
			return fmt.Errorf("remittance: open store: %w", err)
		}
		e.store = s
	}

	e.engine = remittance.New(e.store, e.buildLedgerOpts()...)

	if !e.config.DisableRoutes {
		e.handler = api.NewRouter(e.engine, api.Config{
			BasePath: e.config.BasePath,
			Auth: api.AuthConfig{
				Secret: []byte(e.config.JWTSecret),
				Issuer: e.config.JWTIssuer,
			},
			Health:   e.store.Ping,
			Decimals: e.config.Decimals,
		})
	}

	return vessel.Provide(fapp.Container(), func() (*remittance.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("remittance: extension not initialized")
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
		return errors.New("remittance: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs remittance.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []remittance.Option {
	opts := e.config.LedgerOptions()

	// Append any pass-through options.
	return append(opts, e.ledgerOpts...)
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("remittance: configuration is required but not found in config files; " +
				"ensure 'extensions.remittance' or 'remittance' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("remittance: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("owner", e.config.Owner),
		forge.F("min_amount", e.config.MinAmount),
		forge.F("max_amount", e.config.MaxAmount),
		forge.F("payment_duration", e.config.PaymentDuration),
		forge.F("store_driver", e.config.Store.Driver),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.remittance", "remittance"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("remittance: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("remittance: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.DefaultFeePercentage == nil {
		cfg.DefaultFeePercentage = defaults.DefaultFeePercentage
	}
	if cfg.MinAmount == 0 {
		cfg.MinAmount = defaults.MinAmount
	}
	if cfg.MaxAmount == 0 {
		cfg.MaxAmount = defaults.MaxAmount
	}
	if cfg.PaymentDuration == 0 {
		cfg.PaymentDuration = defaults.PaymentDuration
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = defaults.PluginTimeout
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = defaults.Decimals
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.Owner == "" {
		yamlConfig.Owner = programmaticConfig.Owner
	}
	if yamlConfig.JWTSecret == "" {
		yamlConfig.JWTSecret = programmaticConfig.JWTSecret
	}
	if yamlConfig.JWTIssuer == "" {
		yamlConfig.JWTIssuer = programmaticConfig.JWTIssuer
	}
	if yamlConfig.Store.Driver == "" {
		yamlConfig.Store = programmaticConfig.Store
	}

	// Numeric fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.DefaultFeePercentage == nil {
		yamlConfig.DefaultFeePercentage = programmaticConfig.DefaultFeePercentage
	}
	if yamlConfig.MinAmount == 0 {
		yamlConfig.MinAmount = programmaticConfig.MinAmount
	}
	if yamlConfig.MaxAmount == 0 {
		yamlConfig.MaxAmount = programmaticConfig.MaxAmount
	}
	if yamlConfig.PaymentDuration == 0 {
		yamlConfig.PaymentDuration = programmaticConfig.PaymentDuration
	}
	if yamlConfig.PluginTimeout == 0 {
		yamlConfig.PluginTimeout = programmaticConfig.PluginTimeout
	}
	if yamlConfig.Decimals == 0 {
		yamlConfig.Decimals = programmaticConfig.Decimals
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
