package reservation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/ledgererr"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to reservation.Status
		want     bool
	}{
		{reservation.StatusPending, reservation.StatusFinalized, true},
		{reservation.StatusPending, reservation.StatusReleased, true},
		{reservation.StatusPending, reservation.StatusExpired, true},
		{reservation.StatusFinalized, reservation.StatusReleased, false},
		{reservation.StatusReleased, reservation.StatusPending, false},
		{reservation.StatusExpired, reservation.StatusFinalized, false},
	}
	for _, tt := range tests {
		if got := reservation.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []reservation.Status{reservation.StatusFinalized, reservation.StatusReleased, reservation.StatusExpired} {
		if !reservation.IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	if reservation.IsTerminal(reservation.StatusPending) {
		t.Error("pending should not be terminal")
	}
}

func TestSameRequest(t *testing.T) {
	acctID := id.NewAccountID()
	existing := &reservation.Reservation{AccountID: acctID, Pool: "general", TotalReserved: 500}

	if !reservation.SameRequest(existing, acctID, "general", 500) {
		t.Error("expected identical payload to match")
	}
	if reservation.SameRequest(existing, acctID, "general", 600) {
		t.Error("expected differing amount to not match")
	}
	if reservation.SameRequest(existing, acctID, "gpu", 500) {
		t.Error("expected differing pool to not match")
	}
}

func setupAccountWithLot(t *testing.T, amount types.MicroUSD) (*memory.Memory, *account.Account) {
	t.Helper()
	m := memory.New(types.SystemClock{})
	var acct *account.Account
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, err := tx.CreateAccount(ctx, account.TypeAgent, "agent-resv-1")
		if err != nil {
			return err
		}
		acct = a
		_, err = tx.MintLot(ctx, a.ID, "general", "deposit", "seed", amount, nil)
		return err
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return m, acct
}

func TestReserveThenFinalizeExactCost(t *testing.T) {
	m, acct := setupAccountWithLot(t, 1000)
	engine := reservation.New(types.SystemClock{})

	var resv *reservation.Reservation
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		r, err := engine.Reserve(ctx, tx, acct.ID, 400, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive})
		resv = r
		return err
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if resv.Status != reservation.StatusPending {
		t.Fatalf("Status = %s, want pending", resv.Status)
	}

	var result *reservation.Result
	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		res, err := engine.Finalize(ctx, tx, resv.ID, 400)
		result = res
		return err
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.Reservation.Status != reservation.StatusFinalized {
		t.Fatalf("Status = %s, want finalized", result.Reservation.Status)
	}
	if result.OverrunMicro != 0 {
		t.Fatalf("OverrunMicro = %d, want 0 for exact-cost finalize", result.OverrunMicro)
	}
}

func TestFinalizeIsIdempotentAtSameCost(t *testing.T) {
	m, acct := setupAccountWithLot(t, 1000)
	engine := reservation.New(types.SystemClock{})

	var resv *reservation.Reservation
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		r, err := engine.Reserve(ctx, tx, acct.ID, 400, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive})
		resv = r
		return err
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := engine.Finalize(ctx, tx, resv.ID, 400)
		return err
	})
	if err != nil {
		t.Fatalf("first Finalize: %v", err)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := engine.Finalize(ctx, tx, resv.ID, 400)
		return err
	})
	if err != nil {
		t.Fatalf("repeat Finalize at same cost should be a no-op, got: %v", err)
	}
}

func TestFinalizeRejectsDifferentCostAfterFinalized(t *testing.T) {
	m, acct := setupAccountWithLot(t, 1000)
	engine := reservation.New(types.SystemClock{})

	var resv *reservation.Reservation
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		r, err := engine.Reserve(ctx, tx, acct.ID, 400, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive})
		resv = r
		return err
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := engine.Finalize(ctx, tx, resv.ID, 400)
		return err
	})
	if err != nil {
		t.Fatalf("first Finalize: %v", err)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := engine.Finalize(ctx, tx, resv.ID, 300)
		return err
	})
	if !errors.Is(err, ledgererr.ErrConflict) {
		t.Fatalf("expected ErrConflict re-finalizing at a different cost, got %v", err)
	}
}

func TestFinalizeLiveModeCapsOverrun(t *testing.T) {
	m, acct := setupAccountWithLot(t, 1000)
	engine := reservation.New(types.SystemClock{})

	var resv *reservation.Reservation
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		r, err := engine.Reserve(ctx, tx, acct.ID, 400, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive})
		resv = r
		return err
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	var result *reservation.Result
	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		res, err := engine.Finalize(ctx, tx, resv.ID, 600)
		result = res
		return err
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.OverrunMicro != 200 {
		t.Fatalf("OverrunMicro = %d, want 200 (600 actual - 400 reserved)", result.OverrunMicro)
	}
}

func TestReleaseReturnsFullAmount(t *testing.T) {
	m, acct := setupAccountWithLot(t, 1000)
	engine := reservation.New(types.SystemClock{})

	var resv *reservation.Reservation
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		r, err := engine.Reserve(ctx, tx, acct.ID, 400, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive})
		resv = r
		return err
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		r, err := engine.Release(ctx, tx, resv.ID)
		resv = r
		return err
	})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if resv.Status != reservation.StatusReleased {
		t.Fatalf("Status = %s, want released", resv.Status)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		lots, err := tx.LotsForAccountPool(ctx, acct.ID, "general")
		if err != nil {
			return err
		}
		var available types.MicroUSD
		for _, l := range lots {
			available += l.Available
		}
		if available != 1000 {
			t.Errorf("available = %d, want 1000 (fully returned)", available)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestReleaseRefusesAlreadyFinalized(t *testing.T) {
	m, acct := setupAccountWithLot(t, 1000)
	engine := reservation.New(types.SystemClock{})

	var resv *reservation.Reservation
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		r, err := engine.Reserve(ctx, tx, acct.ID, 400, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive})
		resv = r
		return err
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := engine.Finalize(ctx, tx, resv.ID, 400)
		return err
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := engine.Release(ctx, tx, resv.ID)
		return err
	})
	if !errors.Is(err, ledgererr.ErrReservationNotPending) {
		t.Fatalf("expected ErrReservationNotPending releasing a finalized reservation, got %v", err)
	}
}

func TestReserveRejectsInsufficientBalance(t *testing.T) {
	m, acct := setupAccountWithLot(t, 100)
	engine := reservation.New(types.SystemClock{})

	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := engine.Reserve(ctx, tx, acct.ID, 500, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive})
		return err
	})
	if !errors.Is(err, ledgererr.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestReserveIdempotencyKeyReturnsExistingOnMatch(t *testing.T) {
	m, acct := setupAccountWithLot(t, 1000)
	engine := reservation.New(types.SystemClock{})

	var first, second *reservation.Reservation
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		r, err := engine.Reserve(ctx, tx, acct.ID, 400, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive, IdempotencyKey: "idem-1"})
		first = r
		return err
	})
	if err != nil {
		t.Fatalf("first Reserve: %v", err)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		r, err := engine.Reserve(ctx, tx, acct.ID, 400, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive, IdempotencyKey: "idem-1"})
		second = r
		return err
	})
	if err != nil {
		t.Fatalf("second Reserve: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected idempotency key replay to return the same reservation, got %s != %s", first.ID, second.ID)
	}
}

func TestReserveIdempotencyKeyConflictsOnMismatch(t *testing.T) {
	m, acct := setupAccountWithLot(t, 1000)
	engine := reservation.New(types.SystemClock{})

	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := engine.Reserve(ctx, tx, acct.ID, 400, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive, IdempotencyKey: "idem-2"})
		return err
	})
	if err != nil {
		t.Fatalf("first Reserve: %v", err)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := engine.Reserve(ctx, tx, acct.ID, 999, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive, IdempotencyKey: "idem-2"})
		return err
	})
	if !errors.Is(err, ledgererr.ErrReservationIdempotent) {
		t.Fatalf("expected ErrReservationIdempotent on payload mismatch, got %v", err)
	}
}
