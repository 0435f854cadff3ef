// Package lot defines credit lots: quanta of credit bound to one account
// and optionally one pool, with three micro-USD counters (Available,
// Reserved, Consumed) that sum to the lot's immutable original amount.
package lot

import (
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// SourceType enumerates where a lot's credit originated.
type SourceType string

const (
	SourceDeposit         SourceType = "deposit"
	SourceGrant           SourceType = "grant"
	SourcePurchase        SourceType = "purchase"
	SourceTransferIn      SourceType = "transfer_in"
	SourceCommonsDividend SourceType = "commons_dividend"
)

// GeneralPool is the default, unrestricted pool. A lot with Pool == ""
// behaves as if Pool == GeneralPool.
const GeneralPool = "general"

// Lot is a quantum of credit. The lot invariant is
// Available + Reserved + Consumed == Original, every component >= 0.
// A soft-mode overrun keeps the sum but can leave Available negative;
// CheckInvariant reports such a lot as violating.
// Original is write-once: no code path may mutate it after insert.
type Lot struct {
	types.Entity
	ID         id.LotID        `json:"id"`
	AccountID  id.AccountID    `json:"account_id"`
	Pool       string          `json:"pool"`
	SourceType SourceType      `json:"source_type"`
	SourceID   string          `json:"source_id,omitempty"`
	Original   types.MicroUSD  `json:"original"`
	Available  types.MicroUSD  `json:"available"`
	Reserved   types.MicroUSD  `json:"reserved"`
	Consumed   types.MicroUSD  `json:"consumed"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

// EffectivePool returns Pool, normalized so an empty string reads as the
// general pool for FIFO comparisons.
func (l *Lot) EffectivePool() string {
	if l.Pool == "" {
		return GeneralPool
	}
	return l.Pool
}

// CheckInvariant reports whether the lot's three counters still sum to
// Original with no negative component. Callers invoke this after every
// mutation in a transaction as a belt-and-braces check alongside the DB
// CHECK constraint.
func (l *Lot) CheckInvariant() bool {
	if l.Available < 0 || l.Reserved < 0 || l.Consumed < 0 {
		return false
	}
	sum, err := l.Available.Add(l.Reserved)
	if err != nil {
		return false
	}
	sum, err = sum.Add(l.Consumed)
	if err != nil {
		return false
	}
	return sum == l.Original
}

// New constructs a fresh lot with the full amount sitting in Available.
func New(accountID id.AccountID, pool string, sourceType SourceType, sourceID string, amount types.MicroUSD, expiresAt *time.Time) *Lot {
	return &Lot{
		Entity:     types.NewEntity(),
		ID:         id.NewLotID(),
		AccountID:  accountID,
		Pool:       pool,
		SourceType: sourceType,
		SourceID:   sourceID,
		Original:   amount,
		Available:  amount,
		Reserved:   0,
		Consumed:   0,
		ExpiresAt:  expiresAt,
	}
}

// IsExpired reports whether the lot's expiry has passed as of now.
func (l *Lot) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// Balance is a materialized (account, pool) balance cache row, rebuilt
// from the SUM over lots. It is never the source of truth: store writes
// update it, and reads fall back to a SUM query on miss or staleness.
type Balance struct {
	AccountID id.AccountID   `json:"account_id"`
	Pool      string         `json:"pool"`
	Available types.MicroUSD `json:"available"`
	Reserved  types.MicroUSD `json:"reserved"`
	UpdatedAt time.Time      `json:"updated_at"`
}
