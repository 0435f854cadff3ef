package extension

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MeterBatchSize != 100 {
		t.Errorf("MeterBatchSize = %d, want 100", cfg.MeterBatchSize)
	}
	if cfg.MeterFlushInterval.Seconds() != 5 {
		t.Errorf("MeterFlushInterval = %v, want 5s", cfg.MeterFlushInterval)
	}
	if cfg.StaleReservationSweep.Seconds() != 30 {
		t.Errorf("StaleReservationSweep = %v, want 30s", cfg.StaleReservationSweep)
	}
}

func TestMergeWithDefaultsFillsOnlyZeroFields(t *testing.T) {
	e := &Extension{}
	cfg := Config{MeterBatchSize: 50}
	merged := e.mergeWithDefaults(cfg)

	if merged.MeterBatchSize != 50 {
		t.Errorf("MeterBatchSize = %d, want the explicit 50 preserved", merged.MeterBatchSize)
	}
	defaults := DefaultConfig()
	if merged.MeterFlushInterval != defaults.MeterFlushInterval {
		t.Errorf("MeterFlushInterval = %v, want default %v", merged.MeterFlushInterval, defaults.MeterFlushInterval)
	}
	if merged.StaleReservationSweep != defaults.StaleReservationSweep {
		t.Errorf("StaleReservationSweep = %v, want default %v", merged.StaleReservationSweep, defaults.StaleReservationSweep)
	}
}

func TestMergeConfigurationsYamlTakesPrecedence(t *testing.T) {
	e := &Extension{}
	yamlCfg := Config{BasePath: "/from-yaml", MeterBatchSize: 200}
	programmaticCfg := Config{BasePath: "/from-code", MeterBatchSize: 75, DisableRoutes: true}

	merged := e.mergeConfigurations(yamlCfg, programmaticCfg)

	if merged.BasePath != "/from-yaml" {
		t.Errorf("BasePath = %q, want YAML value to take precedence", merged.BasePath)
	}
	if merged.MeterBatchSize != 200 {
		t.Errorf("MeterBatchSize = %d, want YAML value to take precedence", merged.MeterBatchSize)
	}
	if !merged.DisableRoutes {
		t.Error("expected a true programmatic bool flag to propagate even though YAML didn't set it")
	}
}

func TestMergeConfigurationsProgrammaticFillsGaps(t *testing.T) {
	e := &Extension{}
	yamlCfg := Config{}
	programmaticCfg := Config{MeterBatchSize: 75, StaleReservationSweep: 0}

	merged := e.mergeConfigurations(yamlCfg, programmaticCfg)

	if merged.MeterBatchSize != 75 {
		t.Errorf("MeterBatchSize = %d, want the programmatic value to fill the YAML gap", merged.MeterBatchSize)
	}
}
