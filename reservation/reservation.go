// Package reservation implements the pending-charge lifecycle: hold
// credit out of a lot's Available into Reserved, then finalize it into
// Consumed at an actual cost, or release it back unconsumed.
package reservation

import (
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// Status is the reservation's lifecycle state. finalized, released and
// expired are terminal: no further transition is ever permitted out of
// them.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFinalized Status = "finalized"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
)

// BillingMode governs how a reservation's finalize behaves when the
// actual cost exceeds the reserved amount.
type BillingMode string

const (
	// ModeShadow observes only: overruns are logged, never billed, lot
	// balances are untouched by the overrun.
	ModeShadow BillingMode = "shadow"
	// ModeSoft allows the overrun to debit Available, even negative.
	ModeSoft BillingMode = "soft"
	// ModeLive caps the billed amount at the reserved total.
	ModeLive BillingMode = "live"
)

// transitions is the declarative, closed transition table. Terminal
// states map to an empty slice: no transition is ever legal out of them.
var transitions = map[Status][]Status{
	StatusPending:   {StatusFinalized, StatusReleased, StatusExpired},
	StatusFinalized: {},
	StatusReleased:  {},
	StatusExpired:   {},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is one of the absorbing states.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Reservation is the pending-charge record.
type Reservation struct {
	ID             id.ReservationID `json:"id"`
	AccountID      id.AccountID     `json:"account_id"`
	Pool           string           `json:"pool"`
	TotalReserved  types.MicroUSD   `json:"total_reserved"`
	Status         Status           `json:"status"`
	BillingMode    BillingMode      `json:"billing_mode"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	ExpiresAt      time.Time        `json:"expires_at"`
	CreatedAt      time.Time        `json:"created_at"`
	FinalizedAt    *time.Time       `json:"finalized_at,omitempty"`
	ActualCost     *types.MicroUSD  `json:"actual_cost,omitempty"`
	OverrunMicro   types.MicroUSD   `json:"overrun_micro"`
}

// Lot is one allocation row recording a lot's contribution to a
// reservation's total.
type Lot struct {
	ID            id.ReservationLotID `json:"id"`
	ReservationID id.ReservationID    `json:"reservation_id"`
	LotID         id.LotID            `json:"lot_id"`
	Reserved      types.MicroUSD      `json:"reserved"`
}

// DefaultTTL is the TTL Reserve applies when Options.TTL is not set.
// Reserve does not read the reservation.default_ttl_seconds governance
// parameter; this constant is the only default.
const DefaultTTL = 300 * time.Second

// Options configures a Reserve call.
type Options struct {
	Pool           string
	BillingMode    BillingMode
	TTL            time.Duration
	IdempotencyKey string
}

// Result is returned by Finalize, carrying the unbilled excess for live
// mode so callers can surface it without re-deriving it from the lots.
type Result struct {
	Reservation  *Reservation
	OverrunMicro types.MicroUSD
}

// SameRequest reports whether a prior reservation (found via idempotency
// key) matches a new request field-for-field, per the idempotency
// testable property: identical payload returns the original, differing
// payload fails Conflict.
func SameRequest(existing *Reservation, accountID id.AccountID, pool string, amount types.MicroUSD) bool {
	return existing.AccountID == accountID && existing.Pool == pool && existing.TotalReserved == amount
}
