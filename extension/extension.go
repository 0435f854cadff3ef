// Package extension provides the Forge extension adapter for the
// credit ledger.
//
// It implements the forge.Extension interface to integrate CreditLedger
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.creditledger" or
// "creditledger" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	creditledger "github.com/xraph/creditledger"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/types"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "creditledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Transactional credit ledger and agent-spend governance engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts CreditLedger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *creditledger.CreditLedger
	store      store.Store
	ledgerOpts []creditledger.Option
}

// New creates a new CreditLedger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying CreditLedger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *creditledger.CreditLedger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New(types.SystemClock{})
	}

	// Build ledger options from resolved config.
	opts := e.buildLedgerOpts()

	eng := creditledger.New(e.store, opts...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*creditledger.CreditLedger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("creditledger: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
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
		return errors.New("creditledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs creditledger.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []creditledger.Option {
	opts := make([]creditledger.Option, 0, len(e.ledgerOpts)+3)

	// Apply config-derived options.
	if e.config.MeterBatchSize > 0 || e.config.MeterFlushInterval > 0 {
		batchSize := e.config.MeterBatchSize
		flushInterval := e.config.MeterFlushInterval
		defaults := DefaultConfig()
		if batchSize == 0 {
			batchSize = defaults.MeterBatchSize
		}
		if flushInterval == 0 {
			flushInterval = defaults.MeterFlushInterval
		}
		opts = append(opts, creditledger.WithMeterConfig(batchSize, flushInterval))
	}

	if e.config.StaleReservationSweep > 0 {
		opts = append(opts, creditledger.WithStaleReservationSweep(e.config.StaleReservationSweep))
	}

	// Append any pass-through ledger options.
	opts = append(opts, e.ledgerOpts...)

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
			return errors.New("creditledger: configuration is required but not found in config files; " +
				"ensure 'extensions.creditledger' or 'creditledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("creditledger: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("meter_batch_size", e.config.MeterBatchSize),
		forge.F("meter_flush_interval", e.config.MeterFlushInterval),
		forge.F("stale_reservation_sweep", e.config.StaleReservationSweep),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.creditledger" first (namespaced pattern).
	if cm.IsSet("extensions.creditledger") {
		if err := cm.Bind("extensions.creditledger", &cfg); err == nil {
			e.Logger().Debug("creditledger: loaded config from file",
				forge.F("key", "extensions.creditledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("creditledger: failed to bind extensions.creditledger config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "creditledger" key.
	if cm.IsSet("creditledger") {
		if err := cm.Bind("creditledger", &cfg); err == nil {
			e.Logger().Debug("creditledger: loaded config from file",
				forge.F("key", "creditledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("creditledger: failed to bind creditledger config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.MeterBatchSize == 0 {
		cfg.MeterBatchSize = defaults.MeterBatchSize
	}
	if cfg.MeterFlushInterval == 0 {
		cfg.MeterFlushInterval = defaults.MeterFlushInterval
	}
	if cfg.StaleReservationSweep == 0 {
		cfg.StaleReservationSweep = defaults.StaleReservationSweep
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.MeterBatchSize == 0 && programmaticConfig.MeterBatchSize != 0 {
		yamlConfig.MeterBatchSize = programmaticConfig.MeterBatchSize
	}
	if yamlConfig.MeterFlushInterval == 0 && programmaticConfig.MeterFlushInterval != 0 {
		yamlConfig.MeterFlushInterval = programmaticConfig.MeterFlushInterval
	}
	if yamlConfig.StaleReservationSweep == 0 && programmaticConfig.StaleReservationSweep != 0 {
		yamlConfig.StaleReservationSweep = programmaticConfig.StaleReservationSweep
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
