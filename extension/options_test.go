package extension

import (
	"testing"
	"time"

	creditledger "github.com/xraph/creditledger"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/types"
)

func TestWithStoreSetsStore(t *testing.T) {
	s := memory.New(types.SystemClock{})
	e := New(WithStore(s))
	if e.store != s {
		t.Error("expected WithStore to set the extension's store")
	}
}

func TestWithLedgerOptionAppends(t *testing.T) {
	e := New(WithLedgerOption(creditledger.WithStaleReservationSweep(10 * time.Second)))
	if len(e.ledgerOpts) != 1 {
		t.Fatalf("expected 1 ledger option, got %d", len(e.ledgerOpts))
	}
}

func TestWithDisableRoutesAndMigrate(t *testing.T) {
	e := New(WithDisableRoutes(), WithDisableMigrate())
	if !e.config.DisableRoutes {
		t.Error("expected DisableRoutes to be set")
	}
	if !e.config.DisableMigrate {
		t.Error("expected DisableMigrate to be set")
	}
}

func TestWithBasePath(t *testing.T) {
	e := New(WithBasePath("/ledger"))
	if e.config.BasePath != "/ledger" {
		t.Errorf("BasePath = %q, want /ledger", e.config.BasePath)
	}
}

func TestWithRequireConfig(t *testing.T) {
	e := New(WithRequireConfig(true))
	if !e.config.RequireConfig {
		t.Error("expected RequireConfig to be true")
	}
}

func TestWithMeterBatchSizeAndFlushInterval(t *testing.T) {
	e := New(WithMeterBatchSize(42), WithMeterFlushInterval(3*time.Second))
	if e.config.MeterBatchSize != 42 {
		t.Errorf("MeterBatchSize = %d, want 42", e.config.MeterBatchSize)
	}
	if e.config.MeterFlushInterval != 3*time.Second {
		t.Errorf("MeterFlushInterval = %v, want 3s", e.config.MeterFlushInterval)
	}
}

func TestWithStaleReservationSweep(t *testing.T) {
	e := New(WithStaleReservationSweep(15 * time.Second))
	if e.config.StaleReservationSweep != 15*time.Second {
		t.Errorf("StaleReservationSweep = %v, want 15s", e.config.StaleReservationSweep)
	}
}

func TestBuildLedgerOptsIncludesMeterConfigWhenSet(t *testing.T) {
	e := New(WithMeterBatchSize(10))
	opts := e.buildLedgerOpts()
	if len(opts) == 0 {
		t.Fatal("expected at least one derived ledger option when MeterBatchSize is set")
	}
}
