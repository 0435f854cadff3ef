// Package budget implements per-agent windowed daily spend caps with a
// three-state circuit breaker.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/ledgererr"
	"github.com/xraph/creditledger/types"
)

// CircuitState tracks how close an agent is to its daily cap.
type CircuitState string

const (
	CircuitClosed  CircuitState = "closed"
	CircuitWarning CircuitState = "warning"
	CircuitOpen    CircuitState = "open"
)

// WarningThreshold is the fraction of the daily cap at which the circuit
// moves to warning.
const WarningThreshold = 0.8

// DefaultWindow is the window duration used when none is configured.
const DefaultWindow = 24 * time.Hour

// Budget is one agent's spend-window row.
type Budget struct {
	ID              id.AgentBudgetID `json:"id"`
	AccountID       id.AccountID     `json:"account_id"`
	DailyCap        types.MicroUSD   `json:"daily_cap"`
	CurrentSpend    types.MicroUSD   `json:"current_spend"`
	WindowStart     time.Time        `json:"window_start"`
	WindowDuration  time.Duration    `json:"window_duration_seconds"`
	CircuitState    CircuitState     `json:"circuit_state"`
}

// New constructs a fresh budget row, starting its window at now.
func New(accountID id.AccountID, dailyCap types.MicroUSD, now time.Time) *Budget {
	return &Budget{
		ID:             id.NewAgentBudgetID(),
		AccountID:      accountID,
		DailyCap:       dailyCap,
		WindowStart:    now,
		WindowDuration: DefaultWindow,
		CircuitState:   CircuitClosed,
	}
}

// CheckResult reports whether a spend is allowed under the budget.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// Finalization records one idempotent finalize against a budget, keyed
// by (account, reservation). Recorded spend is recomputable as the
// windowed sum of these rows, which is what makes the budget-consistency
// invariant checkable at reconciliation time.
type Finalization struct {
	AccountID     id.AccountID     `json:"account_id"`
	ReservationID id.ReservationID `json:"reservation_id"`
	Amount        types.MicroUSD   `json:"amount"`
	RecordedAt    time.Time        `json:"recorded_at"`
}

// TxStore is the store slice the budget service needs.
type TxStore interface {
	GetBudgetForUpdate(ctx context.Context, accountID id.AccountID) (*Budget, error)
	UpdateBudget(ctx context.Context, b *Budget) error
	FindFinalization(ctx context.Context, accountID id.AccountID, reservationID id.ReservationID) (*Finalization, error)
	InsertFinalization(ctx context.Context, f *Finalization) error
	EmitBudgetWarning(ctx context.Context, b *Budget) error
	EmitBudgetExhausted(ctx context.Context, b *Budget) error
}

// Service implements check_and_reserve against a budget row.
type Service struct {
	clock types.Clock
}

// NewService constructs a budget Service.
func NewService(clock types.Clock) *Service {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Service{clock: clock}
}

// CheckAndReserve rolls the window if expired, then either admits amount
// into current_spend or rejects it as BudgetOverspend.
func (s *Service) CheckAndReserve(ctx context.Context, tx TxStore, accountID id.AccountID, amount types.MicroUSD) (CheckResult, error) {
	b, err := tx.GetBudgetForUpdate(ctx, accountID)
	if err != nil {
		return CheckResult{}, err
	}

	now := s.clock.Now()
	if now.After(b.WindowStart.Add(b.WindowDuration)) {
		b.WindowStart = now
		b.CurrentSpend = 0
		b.CircuitState = CircuitClosed
	}

	if b.CurrentSpend+amount > b.DailyCap {
		b.CircuitState = CircuitOpen
		if err := tx.UpdateBudget(ctx, b); err != nil {
			return CheckResult{}, err
		}
		if err := tx.EmitBudgetExhausted(ctx, b); err != nil {
			return CheckResult{}, err
		}
		return CheckResult{}, fmt.Errorf("budget: account %s would exceed daily cap: %w", accountID, ledgererr.ErrBudgetOverspend)
	}

	b.CurrentSpend += amount
	warned := false
	if float64(b.CurrentSpend) >= WarningThreshold*float64(b.DailyCap) {
		b.CircuitState = CircuitWarning
		warned = true
	}
	if err := tx.UpdateBudget(ctx, b); err != nil {
		return CheckResult{}, err
	}
	if warned {
		if err := tx.EmitBudgetWarning(ctx, b); err != nil {
			return CheckResult{}, err
		}
	}

	return CheckResult{Allowed: true}, nil
}

// RecordFinalization idempotently records spend for a (account,
// reservation) pair. A repeated call with the same pair is a no-op.
func (s *Service) RecordFinalization(ctx context.Context, tx TxStore, accountID id.AccountID, reservationID id.ReservationID, amount types.MicroUSD) error {
	existing, err := tx.FindFinalization(ctx, accountID, reservationID)
	if err == nil && existing != nil {
		return nil
	}
	return tx.InsertFinalization(ctx, &Finalization{
		AccountID:     accountID,
		ReservationID: reservationID,
		Amount:        amount,
		RecordedAt:    s.clock.Now(),
	})
}
