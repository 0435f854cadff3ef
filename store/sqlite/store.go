package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/bridge"
	"github.com/xraph/creditledger/budget"
	"github.com/xraph/creditledger/dualwrite"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/ledgerentry"
	"github.com/xraph/creditledger/ledgererr"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/reconciliation"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/revenue"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/types"
)

const revenueRuleParamKey = "revenue.split_rule"

var _ store.Store = (*Store)(nil)
var _ store.Tx = (*Tx)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("creditledger/sqlite: %w: %w", ledgererr.ErrMigrationFailed, err)
	}
	return s.seedDefaultRevenueRule(ctx)
}

// seedDefaultRevenueRule inserts an active revenue.split_rule parameter
// if none exists yet, mirroring the in-memory store's constructor-time
// seed: revenue distribution has no sane zero-value default, so a fresh
// database needs one active rule before the first charge can settle.
func (s *Store) seedDefaultRevenueRule(ctx context.Context) error {
	exists := new(configParameterModel)
	err := s.sdb.NewSelect(exists).
		Where("param_key = ?", revenueRuleParamKey).
		Where("status = ?", string(governance.StatusActive)).
		Scan(ctx)
	if err == nil {
		return nil
	}
	if !isNoRows(err) {
		return fmt.Errorf("creditledger/sqlite: check seeded revenue rule: %w", err)
	}

	rule := revenue.Rule{CommonsBPS: 500, CommunityBPS: 300, FoundationBPS: 9200}
	raw, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: marshal default revenue rule: %w", err)
	}
	activatedAt := now()
	p := &governance.Parameter{
		ID:                id.NewConfigParamID(),
		ParamKey:          revenueRuleParamKey,
		EntityType:        governance.NormalizeEntityType(""),
		ValueJSON:         string(raw),
		ConfigVersion:     1,
		Status:            governance.StatusActive,
		Approvals:         2,
		RequiredApprovals: 2,
		ActivatedAt:       &activatedAt,
		CreatedAt:         activatedAt,
	}
	m := toConfigParameterModel(p)
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("creditledger/sqlite: seed default revenue rule: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx opens one Grove transaction and runs fn against a Tx scoped to
// it, committing on success and rolling back on any returned error.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.db.RunInTx(ctx, func(ctx context.Context, gtx *grove.Tx) error {
		tx := newTx(s, sqlitedriver.Unwrap(gtx))
		return fn(ctx, tx)
	})
}

// Tx is the per-transaction handle. Every method runs its statements (one
// or several) against sdb, which is scoped to the enclosing Grove
// transaction for the lifetime of the RunInTx call.
type Tx struct {
	s          *Store
	sdb        *sqlitedriver.SqliteDB
	ruleCache  *revenue.CachedRuleProvider
	revenueSvc *revenue.Service
	bridge     *dualwrite.Bridge
}

func newTx(s *Store, sdb *sqlitedriver.SqliteDB) *Tx {
	t := &Tx{s: s, sdb: sdb}
	t.ruleCache = revenue.NewCachedRuleProvider(t.lookupActiveRule)
	t.revenueSvc = revenue.New(t.ruleCache)
	t.bridge = dualwrite.New(dualwrite.RecorderFunc(t.recordLegacy))
	return t
}

// recordLegacy inserts into the legacy ledger mirror table using the
// same sdb handle as every other write this transaction makes, so the
// mirror row commits or rolls back atomically with the outbox event
// it shadows.
func (t *Tx) recordLegacy(ctx context.Context, entry dualwrite.LegacyEntry) error {
	m := &legacyMirrorModel{
		EventType:  entry.EventType,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Payload:    entry.Payload,
		RecordedAt: now(),
	}
	if _, err := t.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("creditledger/sqlite: insert legacy mirror row: %w", err)
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func (t *Tx) lookupActiveRule(ctx context.Context) (revenue.Rule, error) {
	p, err := t.GetActiveParameter(ctx, revenueRuleParamKey, "")
	if err != nil {
		return revenue.Rule{}, err
	}
	var rule revenue.Rule
	if err := json.Unmarshal([]byte(p.ValueJSON), &rule); err != nil {
		return revenue.Rule{}, fmt.Errorf("creditledger/sqlite: revenue rule %s: %w", p.ID, err)
	}
	return rule, nil
}

// --- accounts ---

func (t *Tx) CreateAccount(ctx context.Context, entityType account.Type, entityID string) (*account.Account, error) {
	existing, err := t.GetAccountByKey(ctx, entityType, entityID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ledgererr.ErrAccountNotFound) {
		return nil, err
	}
	a := account.New(entityType, entityID)
	m := toAccountModel(a)
	if _, err := t.sdb.NewInsert(m).Exec(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: insert account: %w", err)
	}
	return a, nil
}

func (t *Tx) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := t.sdb.NewSelect(m).Where("id = ?", accountID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: account %s: %w", accountID, ledgererr.ErrAccountNotFound)
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (t *Tx) GetAccountByKey(ctx context.Context, entityType account.Type, entityID string) (*account.Account, error) {
	m := new(accountModel)
	err := t.sdb.NewSelect(m).
		Where("entity_type = ?", string(entityType)).
		Where("entity_id = ?", entityID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: account (%s,%s): %w", entityType, entityID, ledgererr.ErrAccountNotFound)
		}
		return nil, err
	}
	return fromAccountModel(m)
}

// ProtocolAccountID auto-vivifies the fixed protocol account for entityID
// (commons, community, foundation), since these are system singletons
// rather than operator-provisioned accounts.
func (t *Tx) ProtocolAccountID(ctx context.Context, entityID string) (id.AccountID, error) {
	a, err := t.CreateAccount(ctx, account.TypeProtocol, entityID)
	if err != nil {
		return id.Nil, err
	}
	return a.ID, nil
}

// --- lots ---

func (t *Tx) LotsForAccountPool(ctx context.Context, accountID id.AccountID, pool string) ([]*lot.Lot, error) {
	var models []lotModel
	err := t.sdb.NewSelect(&models).
		Where("account_id = ?", accountID.String()).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: list lots: %w", err)
	}
	var out []*lot.Lot
	for i := range models {
		l, err := fromLotModel(&models[i])
		if err != nil {
			return nil, err
		}
		if l.Pool == pool || l.EffectivePool() == lot.GeneralPool {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *Tx) GetLot(ctx context.Context, lotID id.LotID) (*lot.Lot, error) {
	m := new(lotModel)
	err := t.sdb.NewSelect(m).Where("id = ?", lotID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: lot %s: %w", lotID, ledgererr.ErrLotNotFound)
		}
		return nil, err
	}
	return fromLotModel(m)
}

func (t *Tx) UpdateLot(ctx context.Context, l *lot.Lot) error {
	l.Touch()
	m := toLotModel(l)
	res, err := t.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: update lot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: lot %s: %w", l.ID, ledgererr.ErrLotNotFound)
	}
	return nil
}

func (t *Tx) FindLotBySource(ctx context.Context, sourceType lot.SourceType, sourceID string) (*lot.Lot, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("store: %w", ledgererr.ErrLotNotFound)
	}
	m := new(lotModel)
	err := t.sdb.NewSelect(m).
		Where("source_type = ?", string(sourceType)).
		Where("source_id = ?", sourceID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: lot source (%s,%s): %w", sourceType, sourceID, ledgererr.ErrLotNotFound)
		}
		return nil, err
	}
	return fromLotModel(m)
}

func (t *Tx) MintLot(ctx context.Context, accountID id.AccountID, pool string, sourceType lot.SourceType, sourceID string, amount types.MicroUSD, expiresAt *time.Time) (*lot.Lot, error) {
	if sourceID != "" {
		if _, err := t.FindLotBySource(ctx, sourceType, sourceID); err == nil {
			return nil, fmt.Errorf("store: lot source (%s,%s): %w", sourceType, sourceID, ledgererr.ErrDuplicateLotSource)
		}
	}
	l := lot.New(accountID, pool, sourceType, sourceID, amount, expiresAt)
	m := toLotModel(l)
	if _, err := t.sdb.NewInsert(m).Exec(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: insert lot: %w", err)
	}
	if err := t.RefreshBalance(ctx, accountID, pool); err != nil {
		return nil, err
	}
	if err := t.InsertOutboxEvent(ctx, outbox.New(outbox.EventLotMinted, "lot", l.ID.String(), l)); err != nil {
		return nil, err
	}
	return l, nil
}

func (t *Tx) RefreshBalance(ctx context.Context, accountID id.AccountID, pool string) error {
	var models []lotModel
	if err := t.sdb.NewSelect(&models).Where("account_id = ?", accountID.String()).Scan(ctx); err != nil {
		return fmt.Errorf("creditledger/sqlite: refresh balance: %w", err)
	}
	var available, reserved types.MicroUSD
	for i := range models {
		l, err := fromLotModel(&models[i])
		if err != nil {
			return err
		}
		if l.EffectivePool() == pool {
			available += l.Available
			reserved += l.Reserved
		}
	}
	b := &balanceModel{
		AccountID: accountID.String(),
		Pool:      pool,
		Available: int64(available),
		Reserved:  int64(reserved),
		UpdatedAt: now(),
	}
	_, err := t.sdb.NewInsert(b).
		OnConflict("(account_id, pool) DO UPDATE").
		Set("available = EXCLUDED.available").
		Set("reserved = EXCLUDED.reserved").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: upsert balance: %w", err)
	}
	return nil
}

// --- entries / sequences ---

func (t *Tx) AllocateSequence(ctx context.Context, accountID id.AccountID, pool string) (int64, error) {
	m := new(sequenceModel)
	err := t.sdb.NewSelect(m).
		Where("account_id = ?", accountID.String()).
		Where("pool = ?", pool).
		Scan(ctx)
	if err != nil {
		if !isNoRows(err) {
			return 0, fmt.Errorf("creditledger/sqlite: select sequence: %w", err)
		}
		m = &sequenceModel{AccountID: accountID.String(), Pool: pool, NextSeq: 0}
	}
	m.NextSeq++
	_, err = t.sdb.NewInsert(m).
		OnConflict("(account_id, pool) DO UPDATE").
		Set("next_seq = EXCLUDED.next_seq").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("creditledger/sqlite: upsert sequence: %w", err)
	}
	return m.NextSeq, nil
}

func (t *Tx) InsertEntry(ctx context.Context, e *ledgerentry.Entry) error {
	m := toEntryModel(e)
	_, err := t.sdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: insert entry: %w", err)
	}
	return nil
}

// --- outbox ---

func (t *Tx) InsertOutboxEvent(ctx context.Context, e *outbox.Event) error {
	m := toOutboxEventModel(e)
	_, err := t.sdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: insert outbox event: %w", err)
	}
	return t.bridge.Mirror(ctx, e)
}

// --- reservations ---

func (t *Tx) InsertReservation(ctx context.Context, r *reservation.Reservation) error {
	m := toReservationModel(r)
	_, err := t.sdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: insert reservation: %w", err)
	}
	return nil
}

func (t *Tx) GetReservationForUpdate(ctx context.Context, resID id.ReservationID) (*reservation.Reservation, error) {
	m := new(reservationModel)
	err := t.sdb.NewSelect(m).Where("id = ?", resID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: reservation %s: %w", resID, ledgererr.ErrReservationNotFound)
		}
		return nil, err
	}
	return fromReservationModel(m)
}

func (t *Tx) UpdateReservation(ctx context.Context, r *reservation.Reservation) error {
	m := toReservationModel(r)
	res, err := t.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: update reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: reservation %s: %w", r.ID, ledgererr.ErrReservationNotFound)
	}
	return nil
}

func (t *Tx) InsertReservationLot(ctx context.Context, rl *reservation.Lot) error {
	m := toReservationLotModel(rl)
	_, err := t.sdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: insert reservation lot: %w", err)
	}
	return nil
}

func (t *Tx) ListReservationLots(ctx context.Context, resID id.ReservationID) ([]*reservation.Lot, error) {
	var models []reservationLotModel
	err := t.sdb.NewSelect(&models).Where("reservation_id = ?", resID.String()).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: list reservation lots: %w", err)
	}
	out := make([]*reservation.Lot, 0, len(models))
	for i := range models {
		rl, err := fromReservationLotModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rl)
	}
	return out, nil
}

func (t *Tx) FindReservationByIdempotencyKey(ctx context.Context, key string) (*reservation.Reservation, error) {
	m := new(reservationModel)
	err := t.sdb.NewSelect(m).Where("idempotency_key = ?", key).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: idempotency key %q: %w", key, ledgererr.ErrNotFound)
		}
		return nil, err
	}
	return fromReservationModel(m)
}

// DistributeRevenue delegates to this transaction's revenue service, which
// resolves the active split rule through the governance-backed cache.
func (t *Tx) DistributeRevenue(ctx context.Context, correlationID string, accountID id.AccountID, pool string, charge types.MicroUSD) error {
	return t.revenueSvc.Distribute(ctx, t, correlationID, pool, charge)
}

// --- governance ---

func (t *Tx) GetActiveParameter(ctx context.Context, key, entityType string) (*governance.Parameter, error) {
	normalized := governance.NormalizeEntityType(entityType)
	m := new(configParameterModel)
	err := t.sdb.NewSelect(m).
		Where("param_key = ?", key).
		Where("entity_type = ?", normalized).
		Where("status = ?", string(governance.StatusActive)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: active parameter %q/%q: %w", key, entityType, ledgererr.ErrConfigParamNotFound)
		}
		return nil, err
	}
	return fromConfigParameterModel(m)
}

func (t *Tx) GetParameterForUpdate(ctx context.Context, paramID id.ConfigParamID) (*governance.Parameter, error) {
	m := new(configParameterModel)
	err := t.sdb.NewSelect(m).Where("id = ?", paramID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: parameter %s: %w", paramID, ledgererr.ErrConfigParamNotFound)
		}
		return nil, err
	}
	return fromConfigParameterModel(m)
}

func (t *Tx) InsertParameter(ctx context.Context, p *governance.Parameter) error {
	m := toConfigParameterModel(p)
	_, err := t.sdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: insert parameter: %w", err)
	}
	return nil
}

func (t *Tx) UpdateParameter(ctx context.Context, p *governance.Parameter) error {
	m := toConfigParameterModel(p)
	res, err := t.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: update parameter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: parameter %s: %w", p.ID, ledgererr.ErrConfigParamNotFound)
	}
	return nil
}

func (t *Tx) ListCoolingDown(ctx context.Context, asOf time.Time) ([]*governance.Parameter, error) {
	var models []configParameterModel
	err := t.sdb.NewSelect(&models).
		Where("status = ?", string(governance.StatusCoolingDown)).
		Where("cooldown_ends_at <= ?", asOf).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: list cooling down: %w", err)
	}
	out := make([]*governance.Parameter, 0, len(models))
	for i := range models {
		p, err := fromConfigParameterModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// --- budget ---

func (t *Tx) GetBudgetForUpdate(ctx context.Context, accountID id.AccountID) (*budget.Budget, error) {
	m := new(budgetModel)
	err := t.sdb.NewSelect(m).Where("account_id = ?", accountID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: budget for account %s: %w", accountID, ledgererr.ErrAgentBudgetNotFound)
		}
		return nil, err
	}
	return fromBudgetModel(m)
}

func (t *Tx) UpdateBudget(ctx context.Context, b *budget.Budget) error {
	m := toBudgetModel(b)
	res, err := t.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: update budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: budget for account %s: %w", b.AccountID, ledgererr.ErrAgentBudgetNotFound)
	}
	return nil
}

// UpsertBudget creates or replaces an account's daily budget, preserving
// its current window and spend if one already exists.
func (t *Tx) UpsertBudget(ctx context.Context, accountID id.AccountID, dailyCap types.MicroUSD) (*budget.Budget, error) {
	existing, err := t.GetBudgetForUpdate(ctx, accountID)
	if err == nil {
		existing.DailyCap = dailyCap
		if err := t.UpdateBudget(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, ledgererr.ErrAgentBudgetNotFound) {
		return nil, err
	}
	b := budget.New(accountID, dailyCap, now())
	m := toBudgetModel(b)
	if _, err := t.sdb.NewInsert(m).Exec(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: insert budget: %w", err)
	}
	return b, nil
}

func (t *Tx) FindFinalization(ctx context.Context, accountID id.AccountID, reservationID id.ReservationID) (*budget.Finalization, error) {
	m := new(finalizationModel)
	err := t.sdb.NewSelect(m).
		Where("account_id = ?", accountID.String()).
		Where("reservation_id = ?", reservationID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: finalization (%s,%s): %w", accountID, reservationID, ledgererr.ErrNotFound)
		}
		return nil, err
	}
	return fromFinalizationModel(m)
}

func (t *Tx) InsertFinalization(ctx context.Context, f *budget.Finalization) error {
	m := toFinalizationModel(f)
	_, err := t.sdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: insert finalization: %w", err)
	}
	return nil
}

func (t *Tx) EmitBudgetWarning(ctx context.Context, b *budget.Budget) error {
	return t.InsertOutboxEvent(ctx, outbox.New(outbox.EventAgentBudgetWarning, "agent_budget", b.ID.String(), b))
}

func (t *Tx) EmitBudgetExhausted(ctx context.Context, b *budget.Budget) error {
	return t.InsertOutboxEvent(ctx, outbox.New(outbox.EventAgentBudgetExhausted, "agent_budget", b.ID.String(), b))
}

// --- bridge / deposits ---

func (t *Tx) GetDepositByTxHash(ctx context.Context, txHash string) (*bridge.Deposit, error) {
	m := new(depositModel)
	err := t.sdb.NewSelect(m).Where("tx_hash = ?", txHash).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: deposit tx_hash %q: %w", txHash, ledgererr.ErrTBADepositNotFound)
		}
		return nil, err
	}
	return fromDepositModel(m)
}

func (t *Tx) GetDepositForUpdate(ctx context.Context, depositID id.TBADepositID) (*bridge.Deposit, error) {
	m := new(depositModel)
	err := t.sdb.NewSelect(m).Where("id = ?", depositID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: deposit %s: %w", depositID, ledgererr.ErrTBADepositNotFound)
		}
		return nil, err
	}
	return fromDepositModel(m)
}

func (t *Tx) InsertDeposit(ctx context.Context, d *bridge.Deposit) error {
	m := toDepositModel(d)
	_, err := t.sdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: insert deposit: %w", err)
	}
	return nil
}

func (t *Tx) UpdateDeposit(ctx context.Context, d *bridge.Deposit) error {
	m := toDepositModel(d)
	res, err := t.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: update deposit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: deposit %s: %w", d.ID, ledgererr.ErrTBADepositNotFound)
	}
	return nil
}

// --- idempotency keys ---

func (t *Tx) FindIdempotencyKey(ctx context.Context, scope, key string) (bool, error) {
	m := new(idempotencyKeyModel)
	err := t.sdb.NewSelect(m).
		Where("scope = ?", scope).
		Where("key = ?", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("creditledger/sqlite: find idempotency key: %w", err)
	}
	if m.ExpiresAt != nil && now().After(*m.ExpiresAt) {
		_, _ = t.sdb.NewDelete((*idempotencyKeyModel)(nil)).
			Where("scope = ?", scope).Where("key = ?", key).Exec(ctx)
		return false, nil
	}
	return true, nil
}

func (t *Tx) ReserveIdempotencyKey(ctx context.Context, scope, key string, ttl time.Duration) error {
	found, err := t.FindIdempotencyKey(ctx, scope, key)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("store: idempotency key %q already reserved: %w", key, ledgererr.ErrConflict)
	}
	m := &idempotencyKeyModel{Scope: scope, Key: key}
	if ttl > 0 {
		expiresAt := now().Add(ttl)
		m.ExpiresAt = &expiresAt
	}
	_, err = t.sdb.NewInsert(m).
		OnConflict("(scope, key) DO UPDATE").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: reserve idempotency key: %w", err)
	}
	return nil
}

// --- reconciliation ---
//
// Every check below loads the handful of rows it needs and re-runs the
// same comparison the in-memory store uses, rather than re-deriving each
// invariant as a bespoke SQL aggregate. Each check reads every row of the
// tables it needs, across all accounts.

func (t *Tx) LotSumViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	var models []lotModel
	if err := t.sdb.NewSelect(&models).Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan lots: %w", err)
	}
	var divs []reconciliation.Divergence
	for i := range models {
		l, err := fromLotModel(&models[i])
		if err != nil {
			return nil, err
		}
		if !l.CheckInvariant() {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckLotSum, Subject: l.ID.String(),
				Detail: "available+reserved+consumed != original",
			})
		}
	}
	return divs, nil
}

func (t *Tx) AccountSumViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	type acctPool struct {
		accountID string
		pool      string
	}
	var entryModels []entryModel
	if err := t.sdb.NewSelect(&entryModels).Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan entries: %w", err)
	}
	entrySum := make(map[acctPool]types.MicroUSD)
	for i := range entryModels {
		e, err := fromEntryModel(&entryModels[i])
		if err != nil {
			return nil, err
		}
		entrySum[acctPool{e.AccountID.String(), e.Pool}] += e.Amount
	}

	var lotModels []lotModel
	if err := t.sdb.NewSelect(&lotModels).Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan lots: %w", err)
	}
	lotSum := make(map[acctPool]types.MicroUSD)
	for i := range lotModels {
		l, err := fromLotModel(&lotModels[i])
		if err != nil {
			return nil, err
		}
		key := acctPool{l.AccountID.String(), l.EffectivePool()}
		lotSum[key] += l.Available + l.Reserved
	}

	var divs []reconciliation.Divergence
	for key, lotTotal := range lotSum {
		if entrySum[key] != lotTotal {
			divs = append(divs, reconciliation.Divergence{
				Check:   reconciliation.CheckAccountSum,
				Subject: key.accountID + "/" + key.pool,
				Detail:  fmt.Sprintf("entry sum %s != available+reserved %s", entrySum[key], lotTotal),
			})
		}
	}
	return divs, nil
}

// ReceivableBoundViolations always reports clean: this store does not
// model a separate clawback-receivable entity, only the finalizations
// a budget's recorded spend is reconciled against.
func (t *Tx) ReceivableBoundViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	return nil, nil
}

func (t *Tx) PlatformLedgerSum(ctx context.Context) (types.MicroUSD, error) {
	var models []entryModel
	if err := t.sdb.NewSelect(&models).Scan(ctx); err != nil {
		return 0, fmt.Errorf("creditledger/sqlite: scan entries: %w", err)
	}
	var sum types.MicroUSD
	for i := range models {
		sum += types.MicroUSD(models[i].Amount)
	}
	return sum, nil
}

func (t *Tx) BudgetSpendMismatches(ctx context.Context) ([]reconciliation.Divergence, error) {
	var budgets []budgetModel
	if err := t.sdb.NewSelect(&budgets).Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan budgets: %w", err)
	}
	var divs []reconciliation.Divergence
	for i := range budgets {
		b, err := fromBudgetModel(&budgets[i])
		if err != nil {
			return nil, err
		}
		var finals []finalizationModel
		err = t.sdb.NewSelect(&finals).
			Where("account_id = ?", b.AccountID.String()).
			Where("recorded_at >= ?", b.WindowStart).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("creditledger/sqlite: scan finalizations: %w", err)
		}
		var windowed types.MicroUSD
		for j := range finals {
			windowed += types.MicroUSD(finals[j].Amount)
		}
		if windowed != b.CurrentSpend {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckBudgetSpendVsFinalizations, Subject: b.AccountID.String(),
				Detail: fmt.Sprintf("recorded spend %s != sum of finalizations %s", b.CurrentSpend, windowed),
			})
		}
	}
	return divs, nil
}

// TransferSymmetryViolations checks that every transfer_in lot has a
// matching reservation finalized at the sender for the same amount.
func (t *Tx) TransferSymmetryViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	var lotModels []lotModel
	if err := t.sdb.NewSelect(&lotModels).Where("source_type = ?", string(lot.SourceTransferIn)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan transfer lots: %w", err)
	}
	var divs []reconciliation.Divergence
	for i := range lotModels {
		l, err := fromLotModel(&lotModels[i])
		if err != nil {
			return nil, err
		}
		var entries []entryModel
		err = t.sdb.NewSelect(&entries).Where("amount = ?", l.Original).Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("creditledger/sqlite: scan entries for transfer check: %w", err)
		}
		found := false
		for j := range entries {
			e, err := fromEntryModel(&entries[j])
			if err != nil {
				return nil, err
			}
			if e.ReservationID == nil {
				continue
			}
			rm := new(reservationModel)
			err = t.sdb.NewSelect(rm).Where("id = ?", e.ReservationID.String()).Scan(ctx)
			if err != nil {
				if isNoRows(err) {
					continue
				}
				return nil, err
			}
			resv, err := fromReservationModel(rm)
			if err != nil {
				return nil, err
			}
			if resv.Status == reservation.StatusFinalized && resv.ActualCost != nil && *resv.ActualCost == l.Original {
				found = true
				break
			}
		}
		if !found {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckTransferSymmetry, Subject: l.ID.String(),
				Detail: "transfer_in lot has no matching finalized sender reservation",
			})
		}
	}
	return divs, nil
}

func (t *Tx) DepositBridgeSymmetryViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	var deposits []depositModel
	if err := t.sdb.NewSelect(&deposits).Where("status = ?", string(bridge.DepositBridged)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan bridged deposits: %w", err)
	}
	var divs []reconciliation.Divergence
	for i := range deposits {
		d, err := fromDepositModel(&deposits[i])
		if err != nil {
			return nil, err
		}
		if d.LotID == nil {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckDepositBridgeSymmetry, Subject: d.ID.String(),
				Detail: "bridged deposit has no lot reference",
			})
			continue
		}
		l, err := t.GetLot(ctx, *d.LotID)
		if err != nil || l.Original != d.Amount {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckDepositBridgeSymmetry, Subject: d.ID.String(),
				Detail: "bridged deposit amount does not match its lot's original amount",
			})
		}
	}
	return divs, nil
}

func (t *Tx) TerminalStateViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	var models []reservationModel
	if err := t.sdb.NewSelect(&models).Where("status = ?", string(reservation.StatusFinalized)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan finalized reservations: %w", err)
	}
	var divs []reconciliation.Divergence
	for i := range models {
		if models[i].FinalizedAt == nil {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckTerminalStateAbsorbing, Subject: models[i].ID,
				Detail: "finalized reservation missing finalized_at",
			})
		}
	}
	return divs, nil
}

func (t *Tx) ActiveRuleCount(ctx context.Context) (int, error) {
	var models []configParameterModel
	err := t.sdb.NewSelect(&models).
		Where("param_key = ?", revenueRuleParamKey).
		Where("status = ?", string(governance.StatusActive)).
		Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("creditledger/sqlite: scan active rules: %w", err)
	}
	return len(models), nil
}

// LotMonotonicityViolations always reports clean: Original is write-once
// by construction (UpdateLot never changes it), so there is no history
// to check it against.
func (t *Tx) LotMonotonicityViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	return nil, nil
}

func (t *Tx) StuckFinalizations(ctx context.Context) ([]reconciliation.Divergence, error) {
	var events []outboxEventModel
	if err := t.sdb.NewSelect(&events).Where("event_type = ?", string(outbox.EventReservationFinalized)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan finalize events: %w", err)
	}
	var divs []reconciliation.Divergence
	for i := range events {
		var resv reservation.Reservation
		if err := json.Unmarshal(events[i].Payload, &resv); err != nil {
			continue
		}
		rm := new(reservationModel)
		err := t.sdb.NewSelect(rm).Where("id = ?", resv.ID.String()).Scan(ctx)
		if err != nil || rm.Status != string(reservation.StatusFinalized) {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckFinalizeAtomicity, Subject: events[i].EntityID,
				Detail: "outbox recorded finalize but reservation is not finalized",
			})
		}
	}
	return divs, nil
}

func (t *Tx) StaleReservations(ctx context.Context, olderThan time.Duration) ([]reconciliation.Divergence, error) {
	cutoff := now().Add(-olderThan)
	var models []reservationModel
	err := t.sdb.NewSelect(&models).
		Where("status = ?", string(reservation.StatusPending)).
		Where("expires_at < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan stale reservations: %w", err)
	}
	var divs []reconciliation.Divergence
	for i := range models {
		divs = append(divs, reconciliation.Divergence{
			Check: reconciliation.CheckReservationEventualTermination, Subject: models[i].ID,
			Detail: "pending reservation past expiry was never swept",
		})
	}
	return divs, nil
}

// TreasuryShortfalls surfaces soft-mode overruns: a lot whose available
// balance has gone negative, an allowed but flagged deviation from the
// normal invariant.
func (t *Tx) TreasuryShortfalls(ctx context.Context) ([]reconciliation.Divergence, error) {
	var models []lotModel
	if err := t.sdb.NewSelect(&models).Where("available < 0").Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan negative-available lots: %w", err)
	}
	var divs []reconciliation.Divergence
	for i := range models {
		divs = append(divs, reconciliation.Divergence{
			Check: reconciliation.CheckTreasuryAdequacy, Subject: models[i].ID,
			Detail: fmt.Sprintf("available balance %s is negative", types.MicroUSD(models[i].Available)),
		})
	}
	return divs, nil
}

func (t *Tx) UntrackedShadowOverruns(ctx context.Context) ([]reconciliation.Divergence, error) {
	var models []reservationModel
	err := t.sdb.NewSelect(&models).
		Where("billing_mode = ?", string(reservation.ModeShadow)).
		Where("status = ?", string(reservation.StatusFinalized)).
		Where("overrun_micro > 0").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("creditledger/sqlite: scan shadow overruns: %w", err)
	}
	var divs []reconciliation.Divergence
	for i := range models {
		var entries []entryModel
		err := t.sdb.NewSelect(&entries).
			Where("reservation_id = ?", models[i].ID).
			Where("entry_type = ?", string(ledgerentry.TypeShadowFinalize)).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("creditledger/sqlite: scan shadow finalize entries: %w", err)
		}
		if len(entries) == 0 {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckShadowTracking, Subject: models[i].ID,
				Detail: "shadow overrun recorded without a shadow_finalize entry",
			})
		}
	}
	return divs, nil
}
