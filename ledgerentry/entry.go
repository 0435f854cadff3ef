// Package ledgerentry defines the append-only ledger entry: the single
// source of truth every account balance is derived from. No code path
// may update or delete a row after insert.
package ledgerentry

import (
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// Type enumerates every economic action that can append a ledger entry.
type Type string

const (
	TypeDeposit            Type = "deposit"
	TypeReserve            Type = "reserve"
	TypeFinalize           Type = "finalize"
	TypeRelease            Type = "release"
	TypeRefund             Type = "refund"
	TypeGrant              Type = "grant"
	TypeShadowCharge       Type = "shadow_charge"
	TypeShadowReserve      Type = "shadow_reserve"
	TypeShadowFinalize     Type = "shadow_finalize"
	TypeCommonsContribution Type = "commons_contribution"
	TypeRevenueShare       Type = "revenue_share"
	TypeMarketplaceSale    Type = "marketplace_sale"
	TypeMarketplacePurchase Type = "marketplace_purchase"
	TypeEscrow             Type = "escrow"
	TypeEscrowRelease      Type = "escrow_release"
)

// Entry is one immutable row in an account's economic history. Amount is
// signed: positive for inflows (deposit, release, grant), negative for
// outflows (reserve, finalize of the consumed portion).
type Entry struct {
	ID             id.EntryID        `json:"id"`
	AccountID      id.AccountID      `json:"account_id"`
	Pool           string            `json:"pool"`
	LotID          *id.LotID         `json:"lot_id,omitempty"`
	ReservationID  *id.ReservationID `json:"reservation_id,omitempty"`
	EntrySeq       int64             `json:"entry_seq"`
	EntryType      Type              `json:"entry_type"`
	Amount         types.MicroUSD    `json:"amount"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	PreBalance     *types.MicroUSD   `json:"pre_balance,omitempty"`
	PostBalance    *types.MicroUSD   `json:"post_balance,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// New constructs an entry with a fresh ID and timestamp. EntrySeq must be
// assigned by the caller via the account sequence allocator, inside the
// same transaction, never by reading MAX(entry_seq).
func New(accountID id.AccountID, pool string, entryType Type, amount types.MicroUSD) *Entry {
	return &Entry{
		ID:        id.NewEntryID(),
		AccountID: accountID,
		Pool:      pool,
		EntryType: entryType,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
}

// WithBalanceSnapshot attaches pre/post balance snapshots, used for
// reserve and finalize entries where callers want an audit trail without
// re-deriving history.
func (e *Entry) WithBalanceSnapshot(pre, post types.MicroUSD) *Entry {
	e.PreBalance = &pre
	e.PostBalance = &post
	return e
}

// Sequence is the per (account, pool) monotonic counter row that entry_seq
// values are allocated from under an exclusive transaction.
type Sequence struct {
	AccountID id.AccountID `json:"account_id"`
	Pool      string       `json:"pool"`
	NextSeq   int64        `json:"next_seq"`
}
