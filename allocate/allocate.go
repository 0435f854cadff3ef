// Package allocate implements the FIFO lot-selection algorithm shared by
// reservation and immediate-charge paths. It is pure: it takes a
// candidate lot slice and an amount, and returns the debits to apply. It
// never touches a store or a transaction.
package allocate

import (
	"sort"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/types"
)

// Debit is one lot's contribution to a requested amount.
type Debit struct {
	LotID  id.LotID
	Amount types.MicroUSD
}

// Candidates ranks the eligible lots (Available > 0) for the requested
// pool in the total order the spec mandates:
//
//  1. Pool-bound lots before pool-general lots; everything else excluded.
//  2. Lots with an expiry before lots without; among expiring lots,
//     earliest expires_at first.
//  3. Within equal expiry, earliest created_at first.
//  4. Within equal creation, lot ID lexical order.
func Candidates(lots []*lot.Lot, pool string) []*lot.Lot {
	out := make([]*lot.Lot, 0, len(lots))
	for _, l := range lots {
		if l.Available <= 0 {
			continue
		}
		effective := l.EffectivePool()
		if effective != pool && effective != lot.GeneralPool {
			continue
		}
		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]

		aBound := a.EffectivePool() == pool && pool != lot.GeneralPool
		bBound := b.EffectivePool() == pool && pool != lot.GeneralPool
		if aBound != bBound {
			return aBound
		}

		aHasExpiry := a.ExpiresAt != nil
		bHasExpiry := b.ExpiresAt != nil
		if aHasExpiry != bHasExpiry {
			return aHasExpiry
		}
		if aHasExpiry && bHasExpiry && !a.ExpiresAt.Equal(*b.ExpiresAt) {
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}

		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}

		return a.ID.String() < b.ID.String()
	})

	return out
}

// Plan selects lots to cover amount from the ranked candidates, returning
// one Debit per lot touched. It does not mutate the lots; callers apply
// the debits to their own in-transaction copies. Returns ErrInsufficientBalance-
// shaped residual info via ok=false when candidates are exhausted before
// amount is fully covered.
func Plan(lots []*lot.Lot, pool string, amount types.MicroUSD) (debits []Debit, covered types.MicroUSD, ok bool) {
	ranked := Candidates(lots, pool)

	remaining := amount
	for _, l := range ranked {
		if remaining <= 0 {
			break
		}
		take := l.Available
		if take > remaining {
			take = remaining
		}
		debits = append(debits, Debit{LotID: l.ID, Amount: take})
		remaining -= take
	}

	covered = amount - remaining
	return debits, covered, remaining == 0
}
