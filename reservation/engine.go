package reservation

import (
	"context"
	"fmt"

	"github.com/xraph/creditledger/allocate"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/ledgerentry"
	"github.com/xraph/creditledger/ledgererr"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/types"
)

// TxStore is the narrow slice of the ledger store that the reservation
// engine needs, scoped to a single open transaction. The concrete store
// package's Tx type satisfies this structurally.
type TxStore interface {
	LotsForAccountPool(ctx context.Context, accountID id.AccountID, pool string) ([]*lot.Lot, error)
	GetLot(ctx context.Context, lotID id.LotID) (*lot.Lot, error)
	UpdateLot(ctx context.Context, l *lot.Lot) error

	InsertReservation(ctx context.Context, r *Reservation) error
	GetReservationForUpdate(ctx context.Context, resID id.ReservationID) (*Reservation, error)
	UpdateReservation(ctx context.Context, r *Reservation) error
	InsertReservationLot(ctx context.Context, rl *Lot) error
	ListReservationLots(ctx context.Context, resID id.ReservationID) ([]*Lot, error)
	FindReservationByIdempotencyKey(ctx context.Context, key string) (*Reservation, error)

	AllocateSequence(ctx context.Context, accountID id.AccountID, pool string) (int64, error)
	InsertEntry(ctx context.Context, e *ledgerentry.Entry) error
	RefreshBalance(ctx context.Context, accountID id.AccountID, pool string) error

	InsertOutboxEvent(ctx context.Context, e *outbox.Event) error

	// DistributeRevenue posts the commons/community/foundation shares for
	// a realized charge within the caller's open transaction. Implemented
	// by the revenue package's service, reached through the store so
	// reservation needn't import revenue's Store dependency itself.
	DistributeRevenue(ctx context.Context, correlationID string, accountID id.AccountID, pool string, charge types.MicroUSD) error
}

// Engine implements reserve/finalize/release/expire. It is stateless
// beyond configuration; every operation takes the open transaction's
// TxStore explicitly.
type Engine struct {
	clock types.Clock
}

// New constructs a reservation Engine.
func New(clock types.Clock) *Engine {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Engine{clock: clock}
}

// Reserve runs the FIFO allocator and opens a pending reservation. It
// must run inside an exclusive transaction; tx is that transaction's
// store handle.
func (e *Engine) Reserve(ctx context.Context, tx TxStore, accountID id.AccountID, amount types.MicroUSD, opts Options) (*Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reservation: reserve amount must be positive: %w", ledgererr.ErrInvalidInput)
	}

	pool := opts.Pool
	if pool == "" {
		pool = lot.GeneralPool
	}
	mode := opts.BillingMode
	if mode == "" {
		mode = ModeLive
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if opts.IdempotencyKey != "" {
		existing, err := tx.FindReservationByIdempotencyKey(ctx, opts.IdempotencyKey)
		if err == nil && existing != nil {
			if SameRequest(existing, accountID, pool, amount) {
				return existing, nil
			}
			return nil, fmt.Errorf("reservation: idempotency key %q payload mismatch: %w", opts.IdempotencyKey, ledgererr.ErrReservationIdempotent)
		}
	}

	lots, err := tx.LotsForAccountPool(ctx, accountID, pool)
	if err != nil {
		return nil, err
	}

	debits, _, ok := allocate.Plan(lots, pool, amount)
	if !ok {
		return nil, fmt.Errorf("reservation: reserve %s for account %s: %w", amount, accountID, ledgererr.ErrInsufficientBalance)
	}

	now := e.clock.Now()
	resv := &Reservation{
		ID:             id.NewReservationID(),
		AccountID:      accountID,
		Pool:           pool,
		TotalReserved:  amount,
		Status:         StatusPending,
		BillingMode:    mode,
		IdempotencyKey: opts.IdempotencyKey,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}

	for _, d := range debits {
		l, err := tx.GetLot(ctx, d.LotID)
		if err != nil {
			return nil, err
		}
		l.Available -= d.Amount
		l.Reserved += d.Amount
		if !l.CheckInvariant() {
			return nil, fmt.Errorf("reservation: lot %s invariant violated during reserve: %w", l.ID, ledgererr.ErrArithmetic)
		}
		if err := tx.UpdateLot(ctx, l); err != nil {
			return nil, err
		}
		if err := tx.InsertReservationLot(ctx, &Lot{
			ID:            id.NewReservationLotID(),
			ReservationID: resv.ID,
			LotID:         d.LotID,
			Reserved:      d.Amount,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.InsertReservation(ctx, resv); err != nil {
		return nil, err
	}

	seq, err := tx.AllocateSequence(ctx, accountID, pool)
	if err != nil {
		return nil, err
	}
	entry := ledgerentry.New(accountID, pool, ledgerentry.TypeReserve, -amount)
	entry.EntrySeq = seq
	entry.ReservationID = &resv.ID
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}

	if err := tx.RefreshBalance(ctx, accountID, pool); err != nil {
		return nil, err
	}

	if err := tx.InsertOutboxEvent(ctx, outbox.New(outbox.EventReservationCreated, "reservation", resv.ID.String(), resv)); err != nil {
		return nil, err
	}

	return resv, nil
}

// Finalize settles a pending reservation at the actual cost, applying
// the billing-mode overrun policy, then posts revenue shares for the
// consumed amount within the same transaction.
func (e *Engine) Finalize(ctx context.Context, tx TxStore, resID id.ReservationID, actualCost types.MicroUSD) (*Result, error) {
	resv, err := tx.GetReservationForUpdate(ctx, resID)
	if err != nil {
		return nil, err
	}

	if resv.Status != StatusPending {
		if resv.Status == StatusFinalized && resv.ActualCost != nil && *resv.ActualCost == actualCost {
			return &Result{Reservation: resv, OverrunMicro: resv.OverrunMicro}, nil
		}
		if resv.Status == StatusFinalized {
			return nil, fmt.Errorf("reservation: %s already finalized at a different cost: %w", resID, ledgererr.ErrConflict)
		}
		return nil, fmt.Errorf("reservation: %s is not pending: %w", resID, ledgererr.ErrReservationNotPending)
	}

	allocations, err := tx.ListReservationLots(ctx, resID)
	if err != nil {
		return nil, err
	}

	x := resv.TotalReserved
	y := actualCost
	var consumedTotal types.MicroUSD
	var overrun types.MicroUSD

	switch {
	case y <= x:
		remaining := y
		for _, rl := range allocations {
			l, err := tx.GetLot(ctx, rl.LotID)
			if err != nil {
				return nil, err
			}
			moved := rl.Reserved
			if moved > remaining {
				moved = remaining
			}
			surplus := rl.Reserved - moved

			l.Reserved -= rl.Reserved
			l.Consumed += moved
			l.Available += surplus
			if !l.CheckInvariant() {
				return nil, fmt.Errorf("reservation: lot %s invariant violated during finalize: %w", l.ID, ledgererr.ErrArithmetic)
			}
			if err := tx.UpdateLot(ctx, l); err != nil {
				return nil, err
			}

			remaining -= moved
			consumedTotal += moved
		}

	case resv.BillingMode == ModeShadow:
		// Observation only: no lot balances move. The caller still sees the
		// full requested cost via the shadow_finalize entry below.
		overrun = y - x

	case resv.BillingMode == ModeSoft:
		for _, rl := range allocations {
			l, err := tx.GetLot(ctx, rl.LotID)
			if err != nil {
				return nil, err
			}
			l.Reserved -= rl.Reserved
			l.Consumed += rl.Reserved
			if err := tx.UpdateLot(ctx, l); err != nil {
				return nil, err
			}
			consumedTotal += rl.Reserved
		}
		overrun = y - x
		consumedTotal += overrun // the overshoot debits Available directly, even negative.
		if len(allocations) > 0 {
			first, err := tx.GetLot(ctx, allocations[0].LotID)
			if err != nil {
				return nil, err
			}
			first.Available -= overrun
			first.Consumed += overrun
			if err := tx.UpdateLot(ctx, first); err != nil {
				return nil, err
			}
		}

	default: // ModeLive
		for _, rl := range allocations {
			l, err := tx.GetLot(ctx, rl.LotID)
			if err != nil {
				return nil, err
			}
			l.Reserved -= rl.Reserved
			l.Consumed += rl.Reserved
			if err := tx.UpdateLot(ctx, l); err != nil {
				return nil, err
			}
		}
		consumedTotal = x
		overrun = y - x
	}

	accountID, pool := resv.AccountID, resv.Pool

	billedType := ledgerentry.TypeFinalize
	if resv.BillingMode == ModeShadow {
		billedType = ledgerentry.TypeShadowFinalize
	}
	billed := consumedTotal
	if resv.BillingMode == ModeShadow {
		billed = y
	}
	seq, err := tx.AllocateSequence(ctx, accountID, pool)
	if err != nil {
		return nil, err
	}
	finalizeEntry := ledgerentry.New(accountID, pool, billedType, -billed)
	finalizeEntry.EntrySeq = seq
	finalizeEntry.ReservationID = &resID
	if err := tx.InsertEntry(ctx, finalizeEntry); err != nil {
		return nil, err
	}

	if resv.BillingMode != ModeShadow {
		// Surplus release only applies in the normal (y<=x) branch; the
		// soft/live overrun branches consume the entire reservation, so
		// there is nothing left to hand back to Available.
		var releaseAmount types.MicroUSD
		if y <= x {
			releaseAmount = x - consumedTotal
		}
		if releaseAmount > 0 {
			seq, err := tx.AllocateSequence(ctx, accountID, pool)
			if err != nil {
				return nil, err
			}
			releaseEntry := ledgerentry.New(accountID, pool, ledgerentry.TypeRelease, releaseAmount)
			releaseEntry.EntrySeq = seq
			releaseEntry.ReservationID = &resID
			if err := tx.InsertEntry(ctx, releaseEntry); err != nil {
				return nil, err
			}
		}
	}

	now := e.clock.Now()
	resv.Status = StatusFinalized
	resv.FinalizedAt = &now
	resv.ActualCost = &actualCost
	resv.OverrunMicro = overrun
	if err := tx.UpdateReservation(ctx, resv); err != nil {
		return nil, err
	}

	if resv.BillingMode != ModeShadow && consumedTotal > 0 {
		if err := tx.DistributeRevenue(ctx, resID.String(), accountID, pool, consumedTotal); err != nil {
			return nil, err
		}
	}

	if err := tx.RefreshBalance(ctx, accountID, pool); err != nil {
		return nil, err
	}

	if err := tx.InsertOutboxEvent(ctx, outbox.New(outbox.EventReservationFinalized, "reservation", resID.String(), resv)); err != nil {
		return nil, err
	}

	return &Result{Reservation: resv, OverrunMicro: overrun}, nil
}

// Release returns a pending reservation's full reserved amount to
// Available and marks it released.
func (e *Engine) Release(ctx context.Context, tx TxStore, resID id.ReservationID) (*Reservation, error) {
	resv, err := tx.GetReservationForUpdate(ctx, resID)
	if err != nil {
		return nil, err
	}
	if resv.Status != StatusPending {
		return nil, fmt.Errorf("reservation: %s is not pending: %w", resID, ledgererr.ErrReservationNotPending)
	}
	return e.releaseOrExpire(ctx, tx, resv, StatusReleased, true)
}

// Expire is the sweeper's path: identical balance movement to Release
// but marks the status expired and emits no user-visible event.
func (e *Engine) Expire(ctx context.Context, tx TxStore, resID id.ReservationID) (*Reservation, error) {
	resv, err := tx.GetReservationForUpdate(ctx, resID)
	if err != nil {
		return nil, err
	}
	if resv.Status != StatusPending {
		return nil, fmt.Errorf("reservation: %s is not pending: %w", resID, ledgererr.ErrReservationNotPending)
	}
	return e.releaseOrExpire(ctx, tx, resv, StatusExpired, false)
}

func (e *Engine) releaseOrExpire(ctx context.Context, tx TxStore, resv *Reservation, final Status, emitEvent bool) (*Reservation, error) {
	if !CanTransition(resv.Status, final) {
		return nil, fmt.Errorf("reservation: %s -> %s not permitted: %w", resv.Status, final, ledgererr.ErrTerminalStateViolation)
	}

	allocations, err := tx.ListReservationLots(ctx, resv.ID)
	if err != nil {
		return nil, err
	}

	for _, rl := range allocations {
		l, err := tx.GetLot(ctx, rl.LotID)
		if err != nil {
			return nil, err
		}
		l.Reserved -= rl.Reserved
		l.Available += rl.Reserved
		if !l.CheckInvariant() {
			return nil, fmt.Errorf("reservation: lot %s invariant violated during release: %w", l.ID, ledgererr.ErrArithmetic)
		}
		if err := tx.UpdateLot(ctx, l); err != nil {
			return nil, err
		}
	}

	if resv.TotalReserved > 0 {
		seq, err := tx.AllocateSequence(ctx, resv.AccountID, resv.Pool)
		if err != nil {
			return nil, err
		}
		entry := ledgerentry.New(resv.AccountID, resv.Pool, ledgerentry.TypeRelease, resv.TotalReserved)
		entry.EntrySeq = seq
		entry.ReservationID = &resv.ID
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return nil, err
		}
	}

	resv.Status = final
	if err := tx.UpdateReservation(ctx, resv); err != nil {
		return nil, err
	}

	if err := tx.RefreshBalance(ctx, resv.AccountID, resv.Pool); err != nil {
		return nil, err
	}

	if emitEvent {
		if err := tx.InsertOutboxEvent(ctx, outbox.New(outbox.EventReservationReleased, "reservation", resv.ID.String(), resv)); err != nil {
			return nil, err
		}
	}

	return resv, nil
}
