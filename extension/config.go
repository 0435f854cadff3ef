package extension

import "time"

// Config holds the CreditLedger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.creditledger" or "creditledger" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for ledger routes (default: "/creditledger").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// MeterBatchSize is the number of usage events to buffer before flushing
	// to the store (default: 100).
	MeterBatchSize int `json:"meter_batch_size" mapstructure:"meter_batch_size" yaml:"meter_batch_size"`

	// MeterFlushInterval is how frequently the meter buffer is flushed
	// even if the batch size has not been reached (default: 5s).
	MeterFlushInterval time.Duration `json:"meter_flush_interval" mapstructure:"meter_flush_interval" yaml:"meter_flush_interval"`

	// StaleReservationSweep is passed to the ledger through
	// creditledger.WithStaleReservationSweep (default: 30s). The ledger runs
	// no background expiry worker: pending reservations past their TTL are
	// expired only by calling CreditLedger.Expire.
	StaleReservationSweep time.Duration `json:"stale_reservation_sweep" mapstructure:"stale_reservation_sweep" yaml:"stale_reservation_sweep"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:              "/creditledger",
		MeterBatchSize:        100,
		MeterFlushInterval:    5 * time.Second,
		StaleReservationSweep: 30 * time.Second,
	}
}
