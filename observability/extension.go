// Package observability provides a metrics extension for the credit
// ledger that records lifecycle event counts and latencies via a
// MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/creditledger/bridge"
	"github.com/xraph/creditledger/budget"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/reconciliation"
	"github.com/xraph/creditledger/reservation"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                     = (*MetricsExtension)(nil)
	_ plugin.OnInit                     = (*MetricsExtension)(nil)
	_ plugin.OnLotMinted                = (*MetricsExtension)(nil)
	_ plugin.OnReservationCreated       = (*MetricsExtension)(nil)
	_ plugin.OnReservationFinalized     = (*MetricsExtension)(nil)
	_ plugin.OnReservationReleased      = (*MetricsExtension)(nil)
	_ plugin.OnAgentBudgetWarning       = (*MetricsExtension)(nil)
	_ plugin.OnAgentBudgetExhausted     = (*MetricsExtension)(nil)
	_ plugin.OnConfigProposed           = (*MetricsExtension)(nil)
	_ plugin.OnConfigActivated          = (*MetricsExtension)(nil)
	_ plugin.OnReconciliationCompleted  = (*MetricsExtension)(nil)
	_ plugin.OnReconciliationDivergence = (*MetricsExtension)(nil)
	_ plugin.OnTbaDepositBridged        = (*MetricsExtension)(nil)
	_ plugin.OnPeerTransferCompleted    = (*MetricsExtension)(nil)
	_ plugin.OnMeterFlushed             = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a CreditLedger plugin to automatically track ledger
// metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Lot metrics
	LotsMinted Counter
	LotAmount  Histogram

	// Reservation metrics
	ReservationsCreated   Counter
	ReservationsFinalized Counter
	ReservationsReleased  Counter
	ReservationOverrun    Histogram

	// Agent budget metrics
	BudgetWarnings  Counter
	BudgetExhausted Counter

	// Governance metrics
	ConfigProposed  Counter
	ConfigActivated Counter

	// Reconciliation metrics
	ReconciliationClean       Counter
	ReconciliationDivergences Counter

	// Bridge metrics
	DepositsBridged Counter
	PeerTransfers   Counter

	// Metering metrics
	MeterEventsSettled Counter
	MeterFlushLatency  Histogram

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		LotsMinted: factory.Counter("creditledger.lot.minted"),
		LotAmount:  factory.Histogram("creditledger.lot.amount_micro"),

		ReservationsCreated:   factory.Counter("creditledger.reservation.created"),
		ReservationsFinalized: factory.Counter("creditledger.reservation.finalized"),
		ReservationsReleased:  factory.Counter("creditledger.reservation.released"),
		ReservationOverrun:    factory.Histogram("creditledger.reservation.overrun_micro"),

		BudgetWarnings:  factory.Counter("creditledger.budget.warnings"),
		BudgetExhausted: factory.Counter("creditledger.budget.exhausted"),

		ConfigProposed:  factory.Counter("creditledger.config.proposed"),
		ConfigActivated: factory.Counter("creditledger.config.activated"),

		ReconciliationClean:       factory.Counter("creditledger.reconciliation.clean"),
		ReconciliationDivergences: factory.Counter("creditledger.reconciliation.divergences"),

		DepositsBridged: factory.Counter("creditledger.bridge.deposits_bridged"),
		PeerTransfers:   factory.Counter("creditledger.bridge.peer_transfers"),

		MeterEventsSettled: factory.Counter("creditledger.meter.events_settled"),
		MeterFlushLatency:  factory.Histogram("creditledger.meter.flush_latency_ms"),

		StoreErrors:  factory.Counter("creditledger.store.errors"),
		PluginErrors: factory.Counter("creditledger.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Lot and reservation hooks
// ──────────────────────────────────────────────────

// OnLotMinted implements plugin.OnLotMinted.
func (m *MetricsExtension) OnLotMinted(_ context.Context, l *lot.Lot) error {
	m.LotsMinted.Inc()
	m.LotAmount.Observe(float64(l.Original))
	return nil
}

// OnReservationCreated implements plugin.OnReservationCreated.
func (m *MetricsExtension) OnReservationCreated(_ context.Context, _ *reservation.Reservation) error {
	m.ReservationsCreated.Inc()
	return nil
}

// OnReservationFinalized implements plugin.OnReservationFinalized.
func (m *MetricsExtension) OnReservationFinalized(_ context.Context, result *reservation.Result) error {
	m.ReservationsFinalized.Inc()
	m.ReservationOverrun.Observe(float64(result.OverrunMicro))
	return nil
}

// OnReservationReleased implements plugin.OnReservationReleased.
func (m *MetricsExtension) OnReservationReleased(_ context.Context, _ *reservation.Reservation) error {
	m.ReservationsReleased.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Agent budget hooks
// ──────────────────────────────────────────────────

// OnAgentBudgetWarning implements plugin.OnAgentBudgetWarning.
func (m *MetricsExtension) OnAgentBudgetWarning(_ context.Context, _ *budget.Budget) error {
	m.BudgetWarnings.Inc()
	return nil
}

// OnAgentBudgetExhausted implements plugin.OnAgentBudgetExhausted.
func (m *MetricsExtension) OnAgentBudgetExhausted(_ context.Context, _ *budget.Budget) error {
	m.BudgetExhausted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Governance hooks
// ──────────────────────────────────────────────────

// OnConfigProposed implements plugin.OnConfigProposed.
func (m *MetricsExtension) OnConfigProposed(_ context.Context, _ *governance.Parameter) error {
	m.ConfigProposed.Inc()
	return nil
}

// OnConfigActivated implements plugin.OnConfigActivated.
func (m *MetricsExtension) OnConfigActivated(_ context.Context, _ *governance.Parameter) error {
	m.ConfigActivated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciliationCompleted implements plugin.OnReconciliationCompleted.
func (m *MetricsExtension) OnReconciliationCompleted(_ context.Context, _ *reconciliation.Report) error {
	m.ReconciliationClean.Inc()
	return nil
}

// OnReconciliationDivergence implements plugin.OnReconciliationDivergence.
func (m *MetricsExtension) OnReconciliationDivergence(_ context.Context, report *reconciliation.Report) error {
	m.ReconciliationDivergences.Add(float64(len(report.Divergences())))
	return nil
}

// ──────────────────────────────────────────────────
// Bridge hooks
// ──────────────────────────────────────────────────

// OnTbaDepositBridged implements plugin.OnTbaDepositBridged.
func (m *MetricsExtension) OnTbaDepositBridged(_ context.Context, _ *bridge.Deposit) error {
	m.DepositsBridged.Inc()
	return nil
}

// OnPeerTransferCompleted implements plugin.OnPeerTransferCompleted.
func (m *MetricsExtension) OnPeerTransferCompleted(_ context.Context, _ string) error {
	m.PeerTransfers.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Metering hooks
// ──────────────────────────────────────────────────

// OnMeterFlushed implements plugin.OnMeterFlushed.
func (m *MetricsExtension) OnMeterFlushed(_ context.Context, count int, elapsed time.Duration) error {
	m.MeterEventsSettled.Add(float64(count))
	m.MeterFlushLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}
