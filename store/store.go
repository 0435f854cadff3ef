// Package store defines the ledger store's top-level contract: a
// transaction opener plus the aggregate read/write surface every
// domain engine needs from inside one exclusive transaction.
//
// Every write path opens exactly one transaction, performs all its
// reads and writes against the Tx handle, and commits atomically;
// cancellation rolls the whole thing back. Concrete backends (memory,
// sqlite, postgres) implement Store and Tx; domain packages depend only
// on the narrow slice of Tx they actually use (reservation.TxStore,
// revenue.TxStore, governance.TxStore, budget.TxStore, bridge.TxStore,
// reconciliation.Queries), so this package is the only place that needs
// to know the full union.
package store

import (
	"context"
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/bridge"
	"github.com/xraph/creditledger/budget"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/reconciliation"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/revenue"
	"github.com/xraph/creditledger/types"
)

// Tx is the full read/write surface available inside one open
// transaction.
type Tx interface {
	reservation.TxStore
	revenue.TxStore
	governance.TxStore
	budget.TxStore
	bridge.TxStore
	reconciliation.Queries

	CreateAccount(ctx context.Context, entityType account.Type, entityID string) (*account.Account, error)
	GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error)
	GetAccountByKey(ctx context.Context, entityType account.Type, entityID string) (*account.Account, error)

	FindIdempotencyKey(ctx context.Context, scope, key string) (bool, error)
	ReserveIdempotencyKey(ctx context.Context, scope, key string, ttl time.Duration) error

	UpsertBudget(ctx context.Context, accountID id.AccountID, dailyCap types.MicroUSD) (*budget.Budget, error)
}

// Store opens transactions and owns the connection lifecycle.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ensure the narrower package interfaces stay satisfiable by a single Tx
// without import cycles; referenced only for documentation purposes.
var (
	_ types.MicroUSD
	_ lot.SourceType
)
