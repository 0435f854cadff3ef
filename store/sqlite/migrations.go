package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the registered migration group for the credit ledger
// SQLite schema.
var Migrations = migrate.NewGroup("creditledger")

func init() {
	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_accounts",
		Version: "20260101000001",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_accounts (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_entity_key ON creditledger_accounts (entity_type, entity_id);
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_accounts`)
			return err
		},
	})

	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_lots",
		Version: "20260101000002",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_lots (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	pool TEXT NOT NULL DEFAULT 'general',
	source_type TEXT NOT NULL,
	source_id TEXT NOT NULL DEFAULT '',
	original INTEGER NOT NULL,
	available INTEGER NOT NULL,
	reserved INTEGER NOT NULL DEFAULT 0,
	consumed INTEGER NOT NULL DEFAULT 0,
	expires_at TEXT,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	CHECK (available + reserved + consumed = original)
);
CREATE INDEX IF NOT EXISTS idx_lots_account_pool ON creditledger_lots (account_id, pool);
CREATE INDEX IF NOT EXISTS idx_lots_expires_at ON creditledger_lots (expires_at);
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_lots`)
			return err
		},
	})

	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_balances",
		Version: "20260101000003",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_balances (
	account_id TEXT NOT NULL,
	pool TEXT NOT NULL,
	available INTEGER NOT NULL DEFAULT 0,
	reserved INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (account_id, pool)
);
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_balances`)
			return err
		},
	})

	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_entries",
		Version: "20260101000004",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_entries (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	pool TEXT NOT NULL,
	lot_id TEXT,
	reservation_id TEXT,
	entry_seq INTEGER NOT NULL,
	entry_type TEXT NOT NULL,
	amount INTEGER NOT NULL,
	idempotency_key TEXT NOT NULL,
	pre_balance INTEGER,
	post_balance INTEGER,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_entries_account_pool_seq ON creditledger_entries (account_id, pool, entry_seq);
CREATE INDEX IF NOT EXISTS idx_entries_reservation ON creditledger_entries (reservation_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_idempotency ON creditledger_entries (idempotency_key);

CREATE TABLE IF NOT EXISTS creditledger_sequences (
	account_id TEXT NOT NULL,
	pool TEXT NOT NULL,
	next_seq INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (account_id, pool)
);
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_entries; DROP TABLE IF EXISTS creditledger_sequences`)
			return err
		},
	})

	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_reservations",
		Version: "20260101000005",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_reservations (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	pool TEXT NOT NULL,
	total_reserved INTEGER NOT NULL,
	status TEXT NOT NULL,
	billing_mode TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	finalized_at TEXT,
	actual_cost INTEGER,
	overrun_micro INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_idempotency ON creditledger_reservations (account_id, idempotency_key);
CREATE INDEX IF NOT EXISTS idx_reservations_status_expires ON creditledger_reservations (status, expires_at);

CREATE TABLE IF NOT EXISTS creditledger_reservation_lots (
	id TEXT PRIMARY KEY,
	reservation_id TEXT NOT NULL,
	lot_id TEXT NOT NULL,
	reserved INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reservation_lots_reservation ON creditledger_reservation_lots (reservation_id);
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_reservations; DROP TABLE IF EXISTS creditledger_reservation_lots`)
			return err
		},
	})

	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_outbox_events",
		Version: "20260101000006",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_outbox_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '',
	entity_id TEXT NOT NULL DEFAULT '',
	correlation_id TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL DEFAULT '',
	config_version INTEGER,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_outbox_events_created_at ON creditledger_outbox_events (created_at);
CREATE INDEX IF NOT EXISTS idx_outbox_events_type ON creditledger_outbox_events (event_type);
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_outbox_events`)
			return err
		},
	})

	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_config_parameters",
		Version: "20260101000007",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_config_parameters (
	id TEXT PRIMARY KEY,
	param_key TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '__global__',
	value_json TEXT NOT NULL DEFAULT '{}',
	config_version INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL,
	approvals INTEGER NOT NULL DEFAULT 0,
	required_approvals INTEGER NOT NULL DEFAULT 2,
	cooldown_ends_at TEXT,
	activated_at TEXT,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_config_parameters_active ON creditledger_config_parameters (param_key, entity_type) WHERE status = 'active';
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_config_parameters`)
			return err
		},
	})

	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_agent_budgets",
		Version: "20260101000008",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_agent_budgets (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	daily_cap INTEGER NOT NULL,
	current_spend INTEGER NOT NULL DEFAULT 0,
	window_start TEXT NOT NULL DEFAULT (datetime('now')),
	window_duration_seconds INTEGER NOT NULL,
	circuit_state TEXT NOT NULL DEFAULT 'closed'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_agent_budgets_account ON creditledger_agent_budgets (account_id);

CREATE TABLE IF NOT EXISTS creditledger_budget_finalizations (
	account_id TEXT NOT NULL,
	reservation_id TEXT NOT NULL,
	amount INTEGER NOT NULL,
	recorded_at TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (account_id, reservation_id)
);
CREATE INDEX IF NOT EXISTS idx_budget_finalizations_recorded_at ON creditledger_budget_finalizations (recorded_at);
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_agent_budgets; DROP TABLE IF EXISTS creditledger_budget_finalizations`)
			return err
		},
	})

	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_tba_deposits",
		Version: "20260101000009",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_tba_deposits (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	amount INTEGER NOT NULL,
	status TEXT NOT NULL,
	lot_id TEXT,
	detected_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tba_deposits_tx_hash ON creditledger_tba_deposits (tx_hash);
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_tba_deposits`)
			return err
		},
	})

	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_idempotency_keys",
		Version: "20260101000010",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_idempotency_keys (
	scope TEXT NOT NULL,
	key TEXT NOT NULL,
	expires_at TEXT,
	PRIMARY KEY (scope, key)
);
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_idempotency_keys`)
			return err
		},
	})

	Migrations.MustRegister(&migrate.Migration{
		Name:    "create_legacy_ledger_mirror",
		Version: "20260101000011",
		Up: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS creditledger_legacy_ledger_mirror (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '',
	entity_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '{}',
	recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_legacy_ledger_mirror_entity ON creditledger_legacy_ledger_mirror (entity_type, entity_id);
`)
			return err
		},
		Down: func(ctx context.Context, exec migrate.Executor) error {
			_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS creditledger_legacy_ledger_mirror`)
			return err
		},
	})
}
