// Package plugin provides an extensible hook system for the credit
// ledger. Plugins observe lifecycle events without ever being on the
// write path: every Emit call runs best-effort, with a timeout, after
// the transaction that produced the event has already committed.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/creditledger/bridge"
	"github.com/xraph/creditledger/budget"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/reconciliation"
	"github.com/xraph/creditledger/reservation"
)

// Plugin is the base interface every plugin implements.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called once when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called once when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Lot hooks
// ──────────────────────────────────────────────────

// OnLotMinted is called whenever a new credit lot is minted.
type OnLotMinted interface {
	Plugin
	OnLotMinted(ctx context.Context, l *lot.Lot) error
}

// ──────────────────────────────────────────────────
// Reservation hooks
// ──────────────────────────────────────────────────

// OnReservationCreated is called when a reservation is opened.
type OnReservationCreated interface {
	Plugin
	OnReservationCreated(ctx context.Context, r *reservation.Reservation) error
}

// OnReservationFinalized is called when a reservation settles.
type OnReservationFinalized interface {
	Plugin
	OnReservationFinalized(ctx context.Context, result *reservation.Result) error
}

// OnReservationReleased is called when a reservation is released or expires.
type OnReservationReleased interface {
	Plugin
	OnReservationReleased(ctx context.Context, r *reservation.Reservation) error
}

// ──────────────────────────────────────────────────
// Agent budget hooks
// ──────────────────────────────────────────────────

// OnAgentBudgetWarning is called when an agent's spend crosses the
// warning threshold.
type OnAgentBudgetWarning interface {
	Plugin
	OnAgentBudgetWarning(ctx context.Context, b *budget.Budget) error
}

// OnAgentBudgetExhausted is called when a spend would exceed an agent's
// daily cap.
type OnAgentBudgetExhausted interface {
	Plugin
	OnAgentBudgetExhausted(ctx context.Context, b *budget.Budget) error
}

// ──────────────────────────────────────────────────
// Governance hooks
// ──────────────────────────────────────────────────

// OnConfigProposed is called when a new parameter value is proposed.
type OnConfigProposed interface {
	Plugin
	OnConfigProposed(ctx context.Context, p *governance.Parameter) error
}

// OnConfigActivated is called when a parameter value takes effect.
type OnConfigActivated interface {
	Plugin
	OnConfigActivated(ctx context.Context, p *governance.Parameter) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciliationCompleted is called after a clean reconciliation run.
type OnReconciliationCompleted interface {
	Plugin
	OnReconciliationCompleted(ctx context.Context, report *reconciliation.Report) error
}

// OnReconciliationDivergence is called when a reconciliation run finds
// one or more divergences.
type OnReconciliationDivergence interface {
	Plugin
	OnReconciliationDivergence(ctx context.Context, report *reconciliation.Report) error
}

// ──────────────────────────────────────────────────
// Bridge hooks
// ──────────────────────────────────────────────────

// OnTbaDepositBridged is called when an on-chain deposit is minted into
// a lot.
type OnTbaDepositBridged interface {
	Plugin
	OnTbaDepositBridged(ctx context.Context, d *bridge.Deposit) error
}

// OnPeerTransferCompleted is called when a two-phase peer transfer
// commits.
type OnPeerTransferCompleted interface {
	Plugin
	OnPeerTransferCompleted(ctx context.Context, correlationID string) error
}

// ──────────────────────────────────────────────────
// Metering hooks
// ──────────────────────────────────────────────────

// OnMeterFlushed is called after a usage-metering batch is settled.
type OnMeterFlushed interface {
	Plugin
	OnMeterFlushed(ctx context.Context, count int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// External ports, pluggable
// ──────────────────────────────────────────────────

// VerifierPlugin supplies a payment proof verifier.
type VerifierPlugin interface {
	Plugin
	Verifier() bridge.Verifier
}

// SignerPlugin supplies a signing backend.
type SignerPlugin interface {
	Plugin
	Signer() bridge.Signer
}

// PayoutProviderPlugin supplies a payout provider.
type PayoutProviderPlugin interface {
	Plugin
	PayoutProvider() bridge.PayoutProvider
}
