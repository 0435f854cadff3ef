package ledger_test

import (
	"context"
	"testing"

	ledger "github.com/xraph/creditledger"
	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/types"
)

func newTestLedger(t *testing.T) *ledger.CreditLedger {
	t.Helper()
	s := memory.New(types.SystemClock{})
	cl := ledger.New(s)
	if err := cl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := cl.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return cl
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	cl := newTestLedger(t)
	ctx := context.Background()

	a1, err := cl.EnsureAccount(ctx, account.TypeAgent, "agent-e2e-1")
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	a2, err := cl.EnsureAccount(ctx, account.TypeAgent, "agent-e2e-1")
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if a1.ID != a2.ID {
		t.Fatalf("expected EnsureAccount to return the same account id, got %s != %s", a1.ID, a2.ID)
	}
}

func TestMintReserveFinalizeEndToEnd(t *testing.T) {
	cl := newTestLedger(t)
	ctx := context.Background()

	acct, err := cl.EnsureAccount(ctx, account.TypeAgent, "agent-e2e-2")
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	if _, err := cl.MintLot(ctx, acct.ID, "general", "grant", "bonus-1", 5000, nil); err != nil {
		t.Fatalf("MintLot: %v", err)
	}

	resv, err := cl.Reserve(ctx, acct.ID, 2000, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if resv.Status != reservation.StatusPending {
		t.Fatalf("Status = %s, want pending", resv.Status)
	}

	result, err := cl.Finalize(ctx, resv.ID, 1800)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.Reservation.Status != reservation.StatusFinalized {
		t.Fatalf("Status = %s, want finalized", result.Reservation.Status)
	}

	report, err := cl.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected a clean reconciliation after a normal reserve/finalize, got: %+v", report.Divergences())
	}
}

func TestReleaseReturnsCreditToAvailable(t *testing.T) {
	cl := newTestLedger(t)
	ctx := context.Background()

	acct, err := cl.EnsureAccount(ctx, account.TypeAgent, "agent-e2e-3")
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if _, err := cl.MintLot(ctx, acct.ID, "general", "grant", "bonus-2", 1000, nil); err != nil {
		t.Fatalf("MintLot: %v", err)
	}

	resv, err := cl.Reserve(ctx, acct.ID, 400, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	released, err := cl.Release(ctx, resv.ID)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.Status != reservation.StatusReleased {
		t.Fatalf("Status = %s, want released", released.Status)
	}

	if _, err := cl.Reserve(ctx, acct.ID, 1000, reservation.Options{Pool: "general", BillingMode: reservation.ModeLive}); err != nil {
		t.Fatalf("expected the full 1000 to be reservable again after release, got: %v", err)
	}
}

func TestSetAndCheckAgentBudget(t *testing.T) {
	cl := newTestLedger(t)
	ctx := context.Background()

	acct, err := cl.EnsureAccount(ctx, account.TypeAgent, "agent-e2e-4")
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if _, err := cl.SetAgentBudget(ctx, acct.ID, 1000); err != nil {
		t.Fatalf("SetAgentBudget: %v", err)
	}

	res, err := cl.CheckBudget(ctx, acct.ID, 500)
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected spend within cap to be allowed")
	}

	if _, err := cl.CheckBudget(ctx, acct.ID, 600); err == nil {
		t.Fatal("expected exceeding the daily cap to be rejected")
	}
}

func TestGovernanceProposeApproveActivate(t *testing.T) {
	cl := newTestLedger(t)
	ctx := context.Background()

	p, err := cl.ProposeConfig(ctx, "reservation.default_ttl_seconds", "", "600", 600, 1)
	if err != nil {
		t.Fatalf("ProposeConfig: %v", err)
	}

	approved, err := cl.ApproveConfig(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("ApproveConfig: %v", err)
	}
	if approved.CooldownEndsAt == nil {
		t.Fatal("expected cooldown to start after the single required approval")
	}

	if _, err := cl.ActivateConfig(ctx, p.ID); err == nil {
		t.Fatal("expected ActivateConfig to refuse activation before cooldown elapses")
	}
}
