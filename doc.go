// Package ledger provides a transactional credit-ledger core for Go
// applications that sell metered, prepaid, or revenue-shared access.
//
// CreditLedger is designed as a library, not a service. Import it directly
// into your Go application. It provides:
//
//   - Append-only per-entity balances, derived from a signed ledger-entry
//     history rather than a mutable counter
//   - FIFO allocation across expiring credit lots
//   - Reservation lifecycle with at-most-once finalization under
//     concurrent retries
//   - Exact, zero-sum revenue distribution across basis-point shares
//   - A transactional outbox for downstream event consumers
//   - Constitutional configuration governance with cooldown-gated changes
//   - Fourteen-point reconciliation across balances, lots, reservations
//     and the outbox
//
// # Quick Start
//
// Create a CreditLedger instance with your preferred store:
//
//	import (
//	    "github.com/xraph/creditledger"
//	    "github.com/xraph/creditledger/store/sqlite"
//	)
//
//	store := sqlite.New(db) // db is an open *grove.DB
//
//	cl := ledger.New(store)
//	if err := cl.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer cl.Stop()
//
// # Core Concepts
//
// Accounts hold credit lots, each minted with an optional expiry:
//
//	lot, err := cl.MintLot(ctx, accountID, "general", "grant", grantID, ledger.MicroUSD(5_000_000), expiresAt)
//
// Reservations hold credit against future usage and are finalized or
// released exactly once:
//
//	resv, err := cl.Reserve(ctx, accountID, ledger.MicroUSD(250_000),
//	    reservation.Options{IdempotencyKey: idempotencyKey})
//	// ... do the metered work ...
//	result, err := cl.Finalize(ctx, resv.ID, ledger.MicroUSD(180_000))
//
// # Performance
//
// Every write path opens a single exclusive transaction per operation;
// reads may be served from an in-memory store for tests or a relational
// store for production. All monetary arithmetic is integer-only, in
// micro-dollars, to avoid floating-point drift across millions of
// reservations.
//
// # TypeID
//
// All entities use TypeID for globally unique, sortable identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	lot_01h2xcejqtf2nbrexx3vqjhp41   // Lot ID
//	resv_01h2xcejqtf2nbrexx3vqjhp41  // Reservation ID
package ledger
