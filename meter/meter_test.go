package meter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/meter"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/types"
)

func TestUsageEventCost(t *testing.T) {
	e := &meter.UsageEvent{Quantity: 10, UnitPriceMicro: 25}
	if got := e.Cost(); got != 250 {
		t.Errorf("Cost() = %d, want 250", got)
	}
}

type memTransactor struct {
	s store.Store
}

func (t memTransactor) RunInTx(ctx context.Context, fn func(ctx context.Context, tx meter.TxStore) error) error {
	return t.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, tx)
	})
}

func TestIngestRejectsWhenBufferFull(t *testing.T) {
	s := memory.New(types.SystemClock{})
	engine := reservation.New(types.SystemClock{})
	var flushes int
	var mu sync.Mutex
	m := meter.New(memTransactor{s}, engine,
		meter.WithBatch(1, time.Hour),
		meter.WithOnFlush(func(ctx context.Context, count int, elapsed time.Duration) {
			mu.Lock()
			flushes++
			mu.Unlock()
		}),
	)

	// Buffer capacity is fixed at 10000 internally and the worker is not
	// started, so Ingest accepts 10000 events without blocking or error and
	// rejects the next one.
	for i := 0; i < 10000; i++ {
		if err := m.Ingest(&meter.UsageEvent{}); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}
	if err := m.Ingest(&meter.UsageEvent{}); err != meter.ErrBufferFull {
		t.Fatalf("Ingest past capacity = %v, want ErrBufferFull", err)
	}
}

func TestFlushSettlesBufferedEvents(t *testing.T) {
	s := memory.New(types.SystemClock{})
	engine := reservation.New(types.SystemClock{})

	var acct *account.Account
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, err := tx.CreateAccount(ctx, account.TypeAgent, "agent-meter-1")
		if err != nil {
			return err
		}
		acct = a
		_, err = tx.MintLot(ctx, a.ID, "general", "grant", "seed", 10000, nil)
		return err
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	flushed := make(chan int, 1)
	m := meter.New(memTransactor{s}, engine,
		meter.WithBatch(1, time.Hour),
		meter.WithOnFlush(func(ctx context.Context, count int, elapsed time.Duration) {
			flushed <- count
		}),
	)

	m.Start(context.Background())
	defer m.Stop()

	if err := m.Ingest(&meter.UsageEvent{
		AccountID:      acct.ID,
		Pool:           "general",
		Quantity:       10,
		UnitPriceMicro: 5,
		BillingMode:    reservation.ModeLive,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	select {
	case count := <-flushed:
		if count != 1 {
			t.Fatalf("settled count = %d, want 1", count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
	}

	err = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		lots, err := tx.LotsForAccountPool(ctx, acct.ID, "general")
		if err != nil {
			return err
		}
		var available types.MicroUSD
		for _, l := range lots {
			available += l.Available
		}
		if available != 9950 {
			t.Errorf("available = %d, want 9950 after settling a 50-unit charge", available)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}
