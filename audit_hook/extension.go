// Package audithook bridges credit-ledger lifecycle events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import
// a concrete audit store directly. Callers inject a RecorderFunc adapter
// that bridges to their backend at wiring time. This is a separate,
// async best-effort path from dualwrite: dualwrite mirrors a fixed
// subset of outbox events transactionally, in the same commit as the
// state change; audithook observes post-commit, outside any
// transaction, and never blocks or fails the operation it describes.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/creditledger/bridge"
	"github.com/xraph/creditledger/budget"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/reconciliation"
	"github.com/xraph/creditledger/reservation"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                     = (*Extension)(nil)
	_ plugin.OnLotMinted                = (*Extension)(nil)
	_ plugin.OnReservationCreated       = (*Extension)(nil)
	_ plugin.OnReservationFinalized     = (*Extension)(nil)
	_ plugin.OnReservationReleased      = (*Extension)(nil)
	_ plugin.OnAgentBudgetWarning       = (*Extension)(nil)
	_ plugin.OnAgentBudgetExhausted     = (*Extension)(nil)
	_ plugin.OnConfigProposed           = (*Extension)(nil)
	_ plugin.OnConfigActivated          = (*Extension)(nil)
	_ plugin.OnReconciliationDivergence = (*Extension)(nil)
	_ plugin.OnTbaDepositBridged        = (*Extension)(nil)
	_ plugin.OnPeerTransferCompleted    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event, kept separate
// from outbox.Event so the audit trail's shape can evolve independently
// of the canonical event log.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges credit-ledger lifecycle events to an audit trail
// backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Lot and reservation hooks
// ──────────────────────────────────────────────────

// OnLotMinted implements plugin.OnLotMinted.
func (e *Extension) OnLotMinted(ctx context.Context, l *lot.Lot) error {
	return e.record(ctx, ActionLotMinted, SeverityInfo, OutcomeSuccess,
		ResourceLot, l.ID.String(), CategoryLedger, nil,
		"account_id", l.AccountID.String(),
		"pool", l.Pool,
		"source_type", string(l.SourceType),
		"amount", l.Original,
	)
}

// OnReservationCreated implements plugin.OnReservationCreated.
func (e *Extension) OnReservationCreated(ctx context.Context, r *reservation.Reservation) error {
	return e.record(ctx, ActionReservationCreated, SeverityInfo, OutcomeSuccess,
		ResourceReservation, r.ID.String(), CategoryLedger, nil,
		"account_id", r.AccountID.String(),
		"pool", r.Pool,
		"amount", r.TotalReserved,
	)
}

// OnReservationFinalized implements plugin.OnReservationFinalized.
func (e *Extension) OnReservationFinalized(ctx context.Context, result *reservation.Result) error {
	severity := SeverityInfo
	if result.OverrunMicro > 0 {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionReservationFinalized, severity, OutcomeSuccess,
		ResourceReservation, result.Reservation.ID.String(), CategoryLedger, nil,
		"account_id", result.Reservation.AccountID.String(),
		"overrun_micro", result.OverrunMicro,
	)
}

// OnReservationReleased implements plugin.OnReservationReleased.
func (e *Extension) OnReservationReleased(ctx context.Context, r *reservation.Reservation) error {
	return e.record(ctx, ActionReservationReleased, SeverityInfo, OutcomeSuccess,
		ResourceReservation, r.ID.String(), CategoryLedger, nil,
		"account_id", r.AccountID.String(),
		"status", string(r.Status),
	)
}

// ──────────────────────────────────────────────────
// Agent budget hooks
// ──────────────────────────────────────────────────

// OnAgentBudgetWarning implements plugin.OnAgentBudgetWarning.
func (e *Extension) OnAgentBudgetWarning(ctx context.Context, b *budget.Budget) error {
	return e.record(ctx, ActionBudgetWarning, SeverityWarning, OutcomeSuccess,
		ResourceBudget, b.ID.String(), CategoryBudget, nil,
		"account_id", b.AccountID.String(),
		"current_spend", b.CurrentSpend,
		"daily_cap", b.DailyCap,
	)
}

// OnAgentBudgetExhausted implements plugin.OnAgentBudgetExhausted.
func (e *Extension) OnAgentBudgetExhausted(ctx context.Context, b *budget.Budget) error {
	return e.record(ctx, ActionBudgetExhausted, SeverityCritical, OutcomeFailure,
		ResourceBudget, b.ID.String(), CategoryBudget, nil,
		"account_id", b.AccountID.String(),
		"current_spend", b.CurrentSpend,
		"daily_cap", b.DailyCap,
	)
}

// ──────────────────────────────────────────────────
// Governance hooks
// ──────────────────────────────────────────────────

// OnConfigProposed implements plugin.OnConfigProposed.
func (e *Extension) OnConfigProposed(ctx context.Context, p *governance.Parameter) error {
	return e.record(ctx, ActionConfigProposed, SeverityInfo, OutcomeSuccess,
		ResourceConfig, p.ID.String(), CategoryGovernance, nil,
		"param_key", p.ParamKey,
		"config_version", p.ConfigVersion,
	)
}

// OnConfigActivated implements plugin.OnConfigActivated.
func (e *Extension) OnConfigActivated(ctx context.Context, p *governance.Parameter) error {
	return e.record(ctx, ActionConfigActivated, SeverityWarning, OutcomeSuccess,
		ResourceConfig, p.ID.String(), CategoryGovernance, nil,
		"param_key", p.ParamKey,
		"config_version", p.ConfigVersion,
	)
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciliationDivergence implements plugin.OnReconciliationDivergence.
func (e *Extension) OnReconciliationDivergence(ctx context.Context, report *reconciliation.Report) error {
	return e.record(ctx, ActionReconciliationDivergence, SeverityCritical, OutcomeFailure,
		ResourceReconciliation, "", CategoryReconciliation, nil,
		"divergence_count", len(report.Divergences()),
		"run_at", report.RunAt.Format(time.RFC3339),
	)
}

// ──────────────────────────────────────────────────
// Bridge hooks
// ──────────────────────────────────────────────────

// OnTbaDepositBridged implements plugin.OnTbaDepositBridged.
func (e *Extension) OnTbaDepositBridged(ctx context.Context, d *bridge.Deposit) error {
	return e.record(ctx, ActionDepositBridged, SeverityInfo, OutcomeSuccess,
		ResourceDeposit, d.ID.String(), CategoryBridge, nil,
		"account_id", d.AccountID.String(),
		"tx_hash", d.TxHash,
		"amount", d.Amount,
	)
}

// OnPeerTransferCompleted implements plugin.OnPeerTransferCompleted.
func (e *Extension) OnPeerTransferCompleted(ctx context.Context, correlationID string) error {
	return e.record(ctx, ActionPeerTransferCompleted, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, correlationID, CategoryBridge, nil,
		"correlation_id", correlationID,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
