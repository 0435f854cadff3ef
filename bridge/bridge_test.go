package bridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/bridge"
	"github.com/xraph/creditledger/ledgererr"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/types"
)

func TestMockVerifier(t *testing.T) {
	v := bridge.MockVerifier{ExpectedRecipient: "0xAAA"}
	ctx := context.Background()

	tests := []struct {
		name  string
		proof bridge.PaymentProof
		valid bool
	}{
		{"valid", bridge.PaymentProof{Reference: "r1", ChainID: 1, AmountMicro: 100, RecipientAddress: "0xAAA"}, true},
		{"missing reference", bridge.PaymentProof{ChainID: 1, AmountMicro: 100, RecipientAddress: "0xAAA"}, false},
		{"invalid chain", bridge.PaymentProof{Reference: "r1", ChainID: 0, AmountMicro: 100, RecipientAddress: "0xAAA"}, false},
		{"non-positive amount", bridge.PaymentProof{Reference: "r1", ChainID: 1, AmountMicro: 0, RecipientAddress: "0xAAA"}, false},
		{"recipient mismatch", bridge.PaymentProof{Reference: "r1", ChainID: 1, AmountMicro: 100, RecipientAddress: "0xBBB"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Verify(ctx, tt.proof)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if res.Valid != tt.valid {
				t.Errorf("Valid = %v, want %v (reason: %s)", res.Valid, tt.valid, res.Reason)
			}
		})
	}
}

func newTestStore(t *testing.T) (*memory.Memory, *account.Account) {
	t.Helper()
	m := memory.New(types.SystemClock{})
	var acct *account.Account
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, err := tx.CreateAccount(ctx, account.TypeAgent, "agent-bridge-1")
		if err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return m, acct
}

func TestDepositLifecycle(t *testing.T) {
	m, acct := newTestStore(t)
	engine := reservation.New(types.SystemClock{})
	svc := bridge.New(engine)

	var deposit *bridge.Deposit
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		d, err := svc.Detect(ctx, tx, acct.ID, "0xhash1", 5000)
		if err != nil {
			return err
		}
		deposit = d
		return nil
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if deposit.Status != bridge.DepositDetected {
		t.Fatalf("Status = %s, want detected", deposit.Status)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		d, err := svc.Confirm(ctx, tx, deposit.ID)
		if err != nil {
			return err
		}
		deposit = d
		return nil
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if deposit.Status != bridge.DepositConfirmed {
		t.Fatalf("Status = %s, want confirmed", deposit.Status)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		d, err := svc.Bridge(ctx, tx, deposit.ID)
		if err != nil {
			return err
		}
		deposit = d
		return nil
	})
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if deposit.Status != bridge.DepositBridged {
		t.Fatalf("Status = %s, want bridged", deposit.Status)
	}
	if deposit.LotID == nil {
		t.Fatal("expected a minted lot id after bridging")
	}
}

func TestDetectIsIdempotentOnTxHash(t *testing.T) {
	m, acct := newTestStore(t)
	engine := reservation.New(types.SystemClock{})
	svc := bridge.New(engine)

	var first, second *bridge.Deposit
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		d, err := svc.Detect(ctx, tx, acct.ID, "0xdup", 100)
		first = d
		return err
	})
	if err != nil {
		t.Fatalf("first Detect: %v", err)
	}
	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		d, err := svc.Detect(ctx, tx, acct.ID, "0xdup", 100)
		second = d
		return err
	})
	if err != nil {
		t.Fatalf("second Detect: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected duplicate tx hash to return the existing deposit, got distinct ids %s != %s", first.ID, second.ID)
	}
}

func TestBridgeRejectsUnconfirmedDeposit(t *testing.T) {
	m, acct := newTestStore(t)
	engine := reservation.New(types.SystemClock{})
	svc := bridge.New(engine)

	var deposit *bridge.Deposit
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		d, err := svc.Detect(ctx, tx, acct.ID, "0xunconf", 100)
		deposit = d
		return err
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := svc.Bridge(ctx, tx, deposit.ID)
		return err
	})
	if !errors.Is(err, ledgererr.ErrTBADepositNotConfirmed) {
		t.Fatalf("expected ErrTBADepositNotConfirmed, got %v", err)
	}
}

func TestFailRefusesTerminalState(t *testing.T) {
	m, acct := newTestStore(t)
	engine := reservation.New(types.SystemClock{})
	svc := bridge.New(engine)

	var deposit *bridge.Deposit
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		d, err := svc.Detect(ctx, tx, acct.ID, "0xfail", 100)
		deposit = d
		return err
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		d, err := svc.Fail(ctx, tx, deposit.ID, "rejected")
		deposit = d
		return err
	})
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if deposit.Status != bridge.DepositFailed {
		t.Fatalf("Status = %s, want failed", deposit.Status)
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := svc.Fail(ctx, tx, deposit.ID, "again")
		return err
	})
	if !errors.Is(err, ledgererr.ErrTerminalStateViolation) {
		t.Fatalf("expected ErrTerminalStateViolation re-failing a terminal deposit, got %v", err)
	}
}

func TestPeerTransferMovesBalance(t *testing.T) {
	m := memory.New(types.SystemClock{})
	engine := reservation.New(types.SystemClock{})
	svc := bridge.New(engine)

	var sender, receiver *account.Account
	err := m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		s, err := tx.CreateAccount(ctx, account.TypeAgent, "sender-1")
		if err != nil {
			return err
		}
		r, err := tx.CreateAccount(ctx, account.TypeAgent, "receiver-1")
		if err != nil {
			return err
		}
		sender, receiver = s, r
		_, err = tx.MintLot(ctx, sender.ID, "general", "deposit", "seed", 10000, nil)
		return err
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	var correlationID string
	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		cid, err := svc.PeerTransfer(ctx, tx, sender.ID, receiver.ID, 2500, "general")
		correlationID = cid
		return err
	})
	if err != nil {
		t.Fatalf("PeerTransfer: %v", err)
	}
	if correlationID == "" {
		t.Fatal("expected a non-empty correlation id")
	}

	err = m.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		lots, err := tx.LotsForAccountPool(ctx, receiver.ID, "general")
		if err != nil {
			return err
		}
		var total types.MicroUSD
		for _, l := range lots {
			total += l.Available
		}
		if total != 2500 {
			t.Errorf("receiver available = %d, want 2500", total)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}
