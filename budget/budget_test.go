package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/ledgererr"
	"github.com/xraph/creditledger/types"
)

type memStore struct {
	budgets       map[id.AccountID]*Budget
	finalizations map[string]*Finalization
	warnings      int
	exhaustions   int
}

func newMemStore() *memStore {
	return &memStore{
		budgets:       map[id.AccountID]*Budget{},
		finalizations: map[string]*Finalization{},
	}
}

func finalizationKey(accountID id.AccountID, reservationID id.ReservationID) string {
	return accountID.String() + ":" + reservationID.String()
}

func (m *memStore) GetBudgetForUpdate(_ context.Context, accountID id.AccountID) (*Budget, error) {
	b, ok := m.budgets[accountID]
	if !ok {
		return nil, ledgererr.ErrAgentBudgetNotFound
	}
	return b, nil
}

func (m *memStore) UpdateBudget(_ context.Context, b *Budget) error {
	m.budgets[b.AccountID] = b
	return nil
}

func (m *memStore) FindFinalization(_ context.Context, accountID id.AccountID, reservationID id.ReservationID) (*Finalization, error) {
	f, ok := m.finalizations[finalizationKey(accountID, reservationID)]
	if !ok {
		return nil, errors.New("not found")
	}
	return f, nil
}

func (m *memStore) InsertFinalization(_ context.Context, f *Finalization) error {
	m.finalizations[finalizationKey(f.AccountID, f.ReservationID)] = f
	return nil
}

func (m *memStore) EmitBudgetWarning(_ context.Context, _ *Budget) error {
	m.warnings++
	return nil
}

func (m *memStore) EmitBudgetExhausted(_ context.Context, _ *Budget) error {
	m.exhaustions++
	return nil
}

func TestCheckAndReserveAllowsWithinCap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := types.NewFixedClock(now)
	svc := NewService(clock)
	store := newMemStore()

	accountID := id.NewAccountID()
	b := New(accountID, 1000, now)
	store.budgets[accountID] = b

	res, err := svc.CheckAndReserve(context.Background(), store, accountID, 100)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected spend within cap to be allowed")
	}
	if b.CurrentSpend != 100 {
		t.Errorf("CurrentSpend = %d, want 100", b.CurrentSpend)
	}
	if store.warnings != 0 || store.exhaustions != 0 {
		t.Errorf("expected no warnings/exhaustions, got %d/%d", store.warnings, store.exhaustions)
	}
}

func TestCheckAndReserveRejectsOverCap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := types.NewFixedClock(now)
	svc := NewService(clock)
	store := newMemStore()

	accountID := id.NewAccountID()
	b := New(accountID, 1000, now)
	b.CurrentSpend = 950
	store.budgets[accountID] = b

	_, err := svc.CheckAndReserve(context.Background(), store, accountID, 100)
	if !errors.Is(err, ledgererr.ErrBudgetOverspend) {
		t.Fatalf("expected ErrBudgetOverspend, got %v", err)
	}
	if b.CircuitState != CircuitOpen {
		t.Errorf("CircuitState = %s, want open", b.CircuitState)
	}
	if store.exhaustions != 1 {
		t.Errorf("expected one exhaustion emission, got %d", store.exhaustions)
	}
}

func TestCheckAndReserveEntersWarningAtThreshold(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := types.NewFixedClock(now)
	svc := NewService(clock)
	store := newMemStore()

	accountID := id.NewAccountID()
	b := New(accountID, 1000, now)
	store.budgets[accountID] = b

	if _, err := svc.CheckAndReserve(context.Background(), store, accountID, 850); err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if b.CircuitState != CircuitWarning {
		t.Errorf("CircuitState = %s, want warning", b.CircuitState)
	}
	if store.warnings != 1 {
		t.Errorf("expected one warning emission, got %d", store.warnings)
	}
}

func TestCheckAndReserveRollsWindowWhenExpired(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := types.NewFixedClock(start)
	svc := NewService(clock)
	store := newMemStore()

	accountID := id.NewAccountID()
	b := New(accountID, 1000, start)
	b.CurrentSpend = 900
	b.CircuitState = CircuitWarning
	store.budgets[accountID] = b

	clock.Advance(DefaultWindow + time.Minute)

	res, err := svc.CheckAndReserve(context.Background(), store, accountID, 100)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected spend to be allowed after window roll")
	}
	if b.CurrentSpend != 100 {
		t.Errorf("CurrentSpend = %d, want 100 (post-roll), got stale accumulation", b.CurrentSpend)
	}
}

func TestRecordFinalizationIsIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(types.NewFixedClock(now))
	store := newMemStore()

	accountID := id.NewAccountID()
	reservationID := id.NewReservationID()

	if err := svc.RecordFinalization(context.Background(), store, accountID, reservationID, 500); err != nil {
		t.Fatalf("first RecordFinalization: %v", err)
	}
	if err := svc.RecordFinalization(context.Background(), store, accountID, reservationID, 500); err != nil {
		t.Fatalf("second RecordFinalization: %v", err)
	}
	if len(store.finalizations) != 1 {
		t.Fatalf("expected exactly one recorded finalization, got %d", len(store.finalizations))
	}
}
