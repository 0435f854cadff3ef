package ledger

import "github.com/xraph/creditledger/types"

// Re-export common types for convenience so callers don't have to import
// the types package directly.

// MicroUSD is the core arithmetic type: micro-dollar denominated amounts
// used for every balance, lot, reservation and ledger entry.
type MicroUSD = types.MicroUSD

// BPS is a basis-points share, used for revenue splits and fee rates.
type BPS = types.BPS

// Money is the display-boundary type. Balances are never stored as Money;
// it exists only to render a MicroUSD value for humans.
type Money = types.Money

// Entity is re-exported from the types package.
type Entity = types.Entity

// Clock abstracts wall-clock time for deterministic testing.
type Clock = types.Clock

const (
	MaxMicroUSD = types.MaxMicroUSD
	ZeroUSD     = types.ZeroUSD
	MaxBPS      = types.MaxBPS
)

var (
	NewEntity     = types.NewEntity
	NewFixedClock = types.NewFixedClock
	AssertSumTo10000 = types.AssertSumTo10000
)

// SystemClock is the production Clock, backed by time.Now.
var SystemClock = types.SystemClock{}
