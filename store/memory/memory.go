// Package memory implements store.Store entirely in process memory. It
// backs unit tests and local development; store/sqlite and store/postgres
// are the durable backends for everything else.
//
// A single mutex serializes every transaction (this store has no
// row-level locking to offer), and RunInTx restores a cloned pre-transaction
// snapshot whenever fn returns an error, so a failed transaction is never
// partially visible to the next one.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

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

// revenueRuleParamKey is the governance parameter key the store's revenue
// rule provider resolves through. Activating a parameter under this key
// is how an operator changes the commons/community/foundation split.
const revenueRuleParamKey = "revenue.split_rule"

type balanceKey struct {
	accountID id.AccountID
	pool      string
}

type seqKey struct {
	accountID id.AccountID
	pool      string
}

type sourceKey struct {
	sourceType lot.SourceType
	sourceID   string
}

type finalKey struct {
	accountID     id.AccountID
	reservationID id.ReservationID
}

// state is the entire mutable dataset. clone produces an independent deep
// copy so a transaction can be rolled back by swapping the live state
// pointer back to a pre-transaction snapshot.
type state struct {
	accounts         map[id.AccountID]*account.Account
	accountsByKey    map[account.Key]id.AccountID
	lots             map[id.LotID]*lot.Lot
	lotsBySource     map[sourceKey]id.LotID
	balances         map[balanceKey]*lot.Balance
	entries          map[id.EntryID]*ledgerentry.Entry
	sequences        map[seqKey]*ledgerentry.Sequence
	reservations     map[id.ReservationID]*reservation.Reservation
	reservationsByID map[string]id.ReservationID
	reservationLots  map[id.ReservationID][]*reservation.Lot
	outboxEvents     []*outbox.Event
	params           map[id.ConfigParamID]*governance.Parameter
	budgets          map[id.AccountID]*budget.Budget
	finalizations    map[finalKey]*budget.Finalization
	deposits         map[id.TBADepositID]*bridge.Deposit
	depositsByHash   map[string]id.TBADepositID
	idempotency      map[string]time.Time
	legacyEvents     []dualwrite.LegacyEntry
}

func newState() *state {
	return &state{
		accounts:         make(map[id.AccountID]*account.Account),
		accountsByKey:    make(map[account.Key]id.AccountID),
		lots:             make(map[id.LotID]*lot.Lot),
		lotsBySource:     make(map[sourceKey]id.LotID),
		balances:         make(map[balanceKey]*lot.Balance),
		entries:          make(map[id.EntryID]*ledgerentry.Entry),
		sequences:        make(map[seqKey]*ledgerentry.Sequence),
		reservations:     make(map[id.ReservationID]*reservation.Reservation),
		reservationsByID: make(map[string]id.ReservationID),
		reservationLots:  make(map[id.ReservationID][]*reservation.Lot),
		params:           make(map[id.ConfigParamID]*governance.Parameter),
		budgets:          make(map[id.AccountID]*budget.Budget),
		finalizations:    make(map[finalKey]*budget.Finalization),
		deposits:         make(map[id.TBADepositID]*bridge.Deposit),
		depositsByHash:   make(map[string]id.TBADepositID),
		idempotency:      make(map[string]time.Time),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		cp := *v
		c.accounts[k] = &cp
	}
	for k, v := range s.accountsByKey {
		c.accountsByKey[k] = v
	}
	for k, v := range s.lots {
		cp := *v
		c.lots[k] = &cp
	}
	for k, v := range s.lotsBySource {
		c.lotsBySource[k] = v
	}
	for k, v := range s.balances {
		cp := *v
		c.balances[k] = &cp
	}
	for k, v := range s.entries {
		cp := *v
		c.entries[k] = &cp
	}
	for k, v := range s.sequences {
		cp := *v
		c.sequences[k] = &cp
	}
	for k, v := range s.reservations {
		cp := *v
		c.reservations[k] = &cp
	}
	for k, v := range s.reservationsByID {
		c.reservationsByID[k] = v
	}
	for k, rows := range s.reservationLots {
		cloned := make([]*reservation.Lot, len(rows))
		for i, rl := range rows {
			cp := *rl
			cloned[i] = &cp
		}
		c.reservationLots[k] = cloned
	}
	c.outboxEvents = append(c.outboxEvents, s.outboxEvents...)
	for k, v := range s.params {
		cp := *v
		c.params[k] = &cp
	}
	for k, v := range s.budgets {
		cp := *v
		c.budgets[k] = &cp
	}
	for k, v := range s.finalizations {
		cp := *v
		c.finalizations[k] = &cp
	}
	for k, v := range s.deposits {
		cp := *v
		c.deposits[k] = &cp
	}
	for k, v := range s.depositsByHash {
		c.depositsByHash[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	c.legacyEvents = append(c.legacyEvents, s.legacyEvents...)
	return c
}

// Memory is an in-process store.Store.
type Memory struct {
	mu         sync.Mutex
	st         *state
	clock      types.Clock
	revenueSvc *revenue.Service
	ruleCache  *revenue.CachedRuleProvider
	bridge     *dualwrite.Bridge
}

// New constructs a Memory store, seeding a default revenue split rule so
// Distribute works without a separate governance bootstrap step. Every
// mapped outbox event is mirrored, in the same transaction, into an
// in-process legacy ledger (LegacyEvents) via dualwrite.Bridge.
func New(clock types.Clock) *Memory {
	if clock == nil {
		clock = types.SystemClock{}
	}
	m := &Memory{st: newState(), clock: clock}
	m.ruleCache = revenue.NewCachedRuleProvider(m.lookupActiveRule)
	m.revenueSvc = revenue.New(m.ruleCache)
	m.bridge = dualwrite.New(dualwrite.RecorderFunc(m.recordLegacy))
	m.seedDefaultRule()
	return m
}

// recordLegacy appends to the live state's legacy mirror. It is only
// ever invoked from within a RunInTx call while m.mu is held and m.st
// points at that transaction's in-progress state, so a rolled-back
// transaction's mirrored rows disappear along with everything else it
// wrote when RunInTx restores the pre-transaction snapshot.
func (m *Memory) recordLegacy(_ context.Context, e dualwrite.LegacyEntry) error {
	m.st.legacyEvents = append(m.st.legacyEvents, e)
	return nil
}

// LegacyEvents returns a copy of the mirrored legacy-system rows written
// so far, for tests and operational inspection.
func (m *Memory) LegacyEvents() []dualwrite.LegacyEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dualwrite.LegacyEntry, len(m.st.legacyEvents))
	copy(out, m.st.legacyEvents)
	return out
}

// InvalidateRuleCache drops the cached revenue rule. Called by the
// governance activation path whenever the revenue rule parameter changes.
func (m *Memory) InvalidateRuleCache() {
	m.ruleCache.Invalidate()
}

func (m *Memory) seedDefaultRule() {
	rule := revenue.Rule{CommonsBPS: 500, CommunityBPS: 300, FoundationBPS: 9200}
	raw, _ := json.Marshal(rule)
	now := m.clock.Now()
	p := &governance.Parameter{
		ID:                id.NewConfigParamID(),
		ParamKey:          revenueRuleParamKey,
		EntityType:        governance.NormalizeEntityType(""),
		ValueJSON:         string(raw),
		ConfigVersion:     1,
		Status:            governance.StatusActive,
		Approvals:         2,
		RequiredApprovals: 2,
		ActivatedAt:       &now,
		CreatedAt:         now,
	}
	m.st.params[p.ID] = p
}

func (m *Memory) lookupActiveRule(ctx context.Context) (revenue.Rule, error) {
	for _, p := range m.st.params {
		if p.ParamKey == revenueRuleParamKey && p.Status == governance.StatusActive {
			var rule revenue.Rule
			if err := json.Unmarshal([]byte(p.ValueJSON), &rule); err != nil {
				return revenue.Rule{}, fmt.Errorf("memory: revenue rule %s: %w", p.ID, err)
			}
			return rule, nil
		}
	}
	return revenue.Rule{}, fmt.Errorf("memory: %w", ledgererr.ErrRevenueRuleNotFound)
}

// RunInTx runs fn under the store's single writer lock, restoring the
// pre-transaction snapshot if fn returns an error.
func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	tx := &Tx{m: m}
	if err := fn(ctx, tx); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// Migrate is a no-op: the in-memory store has no schema to create.
func (m *Memory) Migrate(ctx context.Context) error { return nil }

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close discards the store's contents.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// Tx is the transaction handle returned to callers inside RunInTx. All of
// its methods assume the caller already holds m.mu for the duration of
// the enclosing transaction.
type Tx struct {
	m *Memory
}

func poolMatches(l *lot.Lot, pool string) bool {
	if l.Pool == pool {
		return true
	}
	return l.EffectivePool() == lot.GeneralPool
}

// --- accounts ---

func (t *Tx) CreateAccount(ctx context.Context, entityType account.Type, entityID string) (*account.Account, error) {
	key := account.Key{EntityType: entityType, EntityID: entityID}
	if aid, ok := t.m.st.accountsByKey[key]; ok {
		return t.m.st.accounts[aid], nil
	}
	a := account.New(entityType, entityID)
	t.m.st.accounts[a.ID] = a
	t.m.st.accountsByKey[key] = a.ID
	return a, nil
}

func (t *Tx) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	a, ok := t.m.st.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("store: account %s: %w", accountID, ledgererr.ErrAccountNotFound)
	}
	return a, nil
}

func (t *Tx) GetAccountByKey(ctx context.Context, entityType account.Type, entityID string) (*account.Account, error) {
	aid, ok := t.m.st.accountsByKey[account.Key{EntityType: entityType, EntityID: entityID}]
	if !ok {
		return nil, fmt.Errorf("store: account (%s,%s): %w", entityType, entityID, ledgererr.ErrAccountNotFound)
	}
	return t.m.st.accounts[aid], nil
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
	var out []*lot.Lot
	for _, l := range t.m.st.lots {
		if l.AccountID == accountID && poolMatches(l, pool) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *Tx) GetLot(ctx context.Context, lotID id.LotID) (*lot.Lot, error) {
	l, ok := t.m.st.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("store: lot %s: %w", lotID, ledgererr.ErrLotNotFound)
	}
	return l, nil
}

func (t *Tx) UpdateLot(ctx context.Context, l *lot.Lot) error {
	t.m.st.lots[l.ID] = l
	return nil
}

func (t *Tx) FindLotBySource(ctx context.Context, sourceType lot.SourceType, sourceID string) (*lot.Lot, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("store: %w", ledgererr.ErrLotNotFound)
	}
	lid, ok := t.m.st.lotsBySource[sourceKey{sourceType, sourceID}]
	if !ok {
		return nil, fmt.Errorf("store: lot source (%s,%s): %w", sourceType, sourceID, ledgererr.ErrLotNotFound)
	}
	return t.m.st.lots[lid], nil
}

func (t *Tx) MintLot(ctx context.Context, accountID id.AccountID, pool string, sourceType lot.SourceType, sourceID string, amount types.MicroUSD, expiresAt *time.Time) (*lot.Lot, error) {
	if sourceID != "" {
		if _, ok := t.m.st.lotsBySource[sourceKey{sourceType, sourceID}]; ok {
			return nil, fmt.Errorf("store: lot source (%s,%s): %w", sourceType, sourceID, ledgererr.ErrDuplicateLotSource)
		}
	}
	l := lot.New(accountID, pool, sourceType, sourceID, amount, expiresAt)
	t.m.st.lots[l.ID] = l
	if sourceID != "" {
		t.m.st.lotsBySource[sourceKey{sourceType, sourceID}] = l.ID
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
	var available, reserved types.MicroUSD
	for _, l := range t.m.st.lots {
		if l.AccountID == accountID && l.EffectivePool() == pool {
			available += l.Available
			reserved += l.Reserved
		}
	}
	t.m.st.balances[balanceKey{accountID, pool}] = &lot.Balance{
		AccountID: accountID,
		Pool:      pool,
		Available: available,
		Reserved:  reserved,
		UpdatedAt: t.m.clock.Now(),
	}
	return nil
}

// --- entries / sequences ---

func (t *Tx) AllocateSequence(ctx context.Context, accountID id.AccountID, pool string) (int64, error) {
	key := seqKey{accountID, pool}
	seq, ok := t.m.st.sequences[key]
	if !ok {
		seq = &ledgerentry.Sequence{AccountID: accountID, Pool: pool, NextSeq: 0}
		t.m.st.sequences[key] = seq
	}
	seq.NextSeq++
	return seq.NextSeq, nil
}

func (t *Tx) InsertEntry(ctx context.Context, e *ledgerentry.Entry) error {
	t.m.st.entries[e.ID] = e
	return nil
}

// --- outbox ---

func (t *Tx) InsertOutboxEvent(ctx context.Context, e *outbox.Event) error {
	t.m.st.outboxEvents = append(t.m.st.outboxEvents, e)
	return t.m.bridge.Mirror(ctx, e)
}

// --- reservations ---

func (t *Tx) InsertReservation(ctx context.Context, r *reservation.Reservation) error {
	t.m.st.reservations[r.ID] = r
	if r.IdempotencyKey != "" {
		t.m.st.reservationsByID[r.IdempotencyKey] = r.ID
	}
	return nil
}

func (t *Tx) GetReservationForUpdate(ctx context.Context, resID id.ReservationID) (*reservation.Reservation, error) {
	r, ok := t.m.st.reservations[resID]
	if !ok {
		return nil, fmt.Errorf("store: reservation %s: %w", resID, ledgererr.ErrReservationNotFound)
	}
	return r, nil
}

func (t *Tx) UpdateReservation(ctx context.Context, r *reservation.Reservation) error {
	t.m.st.reservations[r.ID] = r
	return nil
}

func (t *Tx) InsertReservationLot(ctx context.Context, rl *reservation.Lot) error {
	t.m.st.reservationLots[rl.ReservationID] = append(t.m.st.reservationLots[rl.ReservationID], rl)
	return nil
}

func (t *Tx) ListReservationLots(ctx context.Context, resID id.ReservationID) ([]*reservation.Lot, error) {
	return t.m.st.reservationLots[resID], nil
}

func (t *Tx) FindReservationByIdempotencyKey(ctx context.Context, key string) (*reservation.Reservation, error) {
	resID, ok := t.m.st.reservationsByID[key]
	if !ok {
		return nil, fmt.Errorf("store: idempotency key %q: %w", key, ledgererr.ErrNotFound)
	}
	return t.m.st.reservations[resID], nil
}

// DistributeRevenue delegates to the store's revenue service, which
// resolves the active split rule through the governance-backed cache.
func (t *Tx) DistributeRevenue(ctx context.Context, correlationID string, accountID id.AccountID, pool string, charge types.MicroUSD) error {
	return t.m.revenueSvc.Distribute(ctx, t, correlationID, pool, charge)
}

// --- governance ---

func (t *Tx) GetActiveParameter(ctx context.Context, key, entityType string) (*governance.Parameter, error) {
	normalized := governance.NormalizeEntityType(entityType)
	for _, p := range t.m.st.params {
		if p.ParamKey == key && p.EntityType == normalized && p.Status == governance.StatusActive {
			return p, nil
		}
	}
	return nil, fmt.Errorf("store: active parameter %q/%q: %w", key, entityType, ledgererr.ErrConfigParamNotFound)
}

func (t *Tx) GetParameterForUpdate(ctx context.Context, paramID id.ConfigParamID) (*governance.Parameter, error) {
	p, ok := t.m.st.params[paramID]
	if !ok {
		return nil, fmt.Errorf("store: parameter %s: %w", paramID, ledgererr.ErrConfigParamNotFound)
	}
	return p, nil
}

func (t *Tx) InsertParameter(ctx context.Context, p *governance.Parameter) error {
	t.m.st.params[p.ID] = p
	return nil
}

func (t *Tx) UpdateParameter(ctx context.Context, p *governance.Parameter) error {
	t.m.st.params[p.ID] = p
	return nil
}

func (t *Tx) ListCoolingDown(ctx context.Context, now time.Time) ([]*governance.Parameter, error) {
	var out []*governance.Parameter
	for _, p := range t.m.st.params {
		if p.Status == governance.StatusCoolingDown && p.CooldownEndsAt != nil && !p.CooldownEndsAt.After(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- budget ---

func (t *Tx) GetBudgetForUpdate(ctx context.Context, accountID id.AccountID) (*budget.Budget, error) {
	b, ok := t.m.st.budgets[accountID]
	if !ok {
		return nil, fmt.Errorf("store: budget for account %s: %w", accountID, ledgererr.ErrAgentBudgetNotFound)
	}
	return b, nil
}

func (t *Tx) UpdateBudget(ctx context.Context, b *budget.Budget) error {
	t.m.st.budgets[b.AccountID] = b
	return nil
}

// UpsertBudget creates or replaces an account's daily budget, preserving
// its current window and spend if one already exists.
func (t *Tx) UpsertBudget(ctx context.Context, accountID id.AccountID, dailyCap types.MicroUSD) (*budget.Budget, error) {
	if existing, ok := t.m.st.budgets[accountID]; ok {
		existing.DailyCap = dailyCap
		return existing, nil
	}
	b := budget.New(accountID, dailyCap, t.m.clock.Now())
	t.m.st.budgets[accountID] = b
	return b, nil
}

func (t *Tx) FindFinalization(ctx context.Context, accountID id.AccountID, reservationID id.ReservationID) (*budget.Finalization, error) {
	f, ok := t.m.st.finalizations[finalKey{accountID, reservationID}]
	if !ok {
		return nil, fmt.Errorf("store: finalization (%s,%s): %w", accountID, reservationID, ledgererr.ErrNotFound)
	}
	return f, nil
}

func (t *Tx) InsertFinalization(ctx context.Context, f *budget.Finalization) error {
	t.m.st.finalizations[finalKey{f.AccountID, f.ReservationID}] = f
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
	did, ok := t.m.st.depositsByHash[txHash]
	if !ok {
		return nil, fmt.Errorf("store: deposit tx_hash %q: %w", txHash, ledgererr.ErrTBADepositNotFound)
	}
	return t.m.st.deposits[did], nil
}

func (t *Tx) GetDepositForUpdate(ctx context.Context, depositID id.TBADepositID) (*bridge.Deposit, error) {
	d, ok := t.m.st.deposits[depositID]
	if !ok {
		return nil, fmt.Errorf("store: deposit %s: %w", depositID, ledgererr.ErrTBADepositNotFound)
	}
	return d, nil
}

func (t *Tx) InsertDeposit(ctx context.Context, d *bridge.Deposit) error {
	t.m.st.deposits[d.ID] = d
	t.m.st.depositsByHash[d.TxHash] = d.ID
	return nil
}

func (t *Tx) UpdateDeposit(ctx context.Context, d *bridge.Deposit) error {
	t.m.st.deposits[d.ID] = d
	return nil
}

// --- idempotency keys ---

func (t *Tx) FindIdempotencyKey(ctx context.Context, scope, key string) (bool, error) {
	expiresAt, ok := t.m.st.idempotency[scope+"|"+key]
	if !ok {
		return false, nil
	}
	if !expiresAt.IsZero() && t.m.clock.Now().After(expiresAt) {
		delete(t.m.st.idempotency, scope+"|"+key)
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
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = t.m.clock.Now().Add(ttl)
	}
	t.m.st.idempotency[scope+"|"+key] = expiresAt
	return nil
}

// --- reconciliation ---

func (t *Tx) LotSumViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	var divs []reconciliation.Divergence
	for _, l := range t.m.st.lots {
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
		accountID id.AccountID
		pool      string
	}
	entrySum := make(map[acctPool]types.MicroUSD)
	for _, e := range t.m.st.entries {
		entrySum[acctPool{e.AccountID, e.Pool}] += e.Amount
	}
	lotSum := make(map[acctPool]types.MicroUSD)
	for _, l := range t.m.st.lots {
		key := acctPool{l.AccountID, l.EffectivePool()}
		lotSum[key] += l.Available + l.Reserved
	}
	var divs []reconciliation.Divergence
	for key, lotTotal := range lotSum {
		if entrySum[key] != lotTotal {
			divs = append(divs, reconciliation.Divergence{
				Check:   reconciliation.CheckAccountSum,
				Subject: key.accountID.String() + "/" + key.pool,
				Detail:  fmt.Sprintf("entry sum %s != available+reserved %s", entrySum[key], lotTotal),
			})
		}
	}
	return divs, nil
}

// ReceivableBoundViolations always reports clean: this reference store
// does not model a separate clawback-receivable entity, only the
// finalizations a budget's recorded spend is reconciled against.
func (t *Tx) ReceivableBoundViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	return nil, nil
}

func (t *Tx) PlatformLedgerSum(ctx context.Context) (types.MicroUSD, error) {
	var sum types.MicroUSD
	for _, e := range t.m.st.entries {
		sum += e.Amount
	}
	return sum, nil
}

func (t *Tx) BudgetSpendMismatches(ctx context.Context) ([]reconciliation.Divergence, error) {
	var divs []reconciliation.Divergence
	for _, b := range t.m.st.budgets {
		var windowed types.MicroUSD
		for _, f := range t.m.st.finalizations {
			if f.AccountID == b.AccountID && !f.RecordedAt.Before(b.WindowStart) {
				windowed += f.Amount
			}
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
// Matching is by amount only: any finalized reservation whose actual
// cost equals the lot's original amount counts, and the lot's source id
// (the peer-transfer correlation id) is not consulted.
func (t *Tx) TransferSymmetryViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	var divs []reconciliation.Divergence
	for _, l := range t.m.st.lots {
		if l.SourceType != lot.SourceTransferIn {
			continue
		}
		found := false
		for _, e := range t.m.st.entries {
			if e.ReservationID == nil {
				continue
			}
			if resv, ok := t.m.st.reservations[*e.ReservationID]; ok {
				if resv.Status == reservation.StatusFinalized && resv.ActualCost != nil && *resv.ActualCost == l.Original {
					found = true
					break
				}
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
	var divs []reconciliation.Divergence
	for _, d := range t.m.st.deposits {
		if d.Status != bridge.DepositBridged {
			continue
		}
		if d.LotID == nil {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckDepositBridgeSymmetry, Subject: d.ID.String(),
				Detail: "bridged deposit has no lot reference",
			})
			continue
		}
		l, ok := t.m.st.lots[*d.LotID]
		if !ok || l.Original != d.Amount {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckDepositBridgeSymmetry, Subject: d.ID.String(),
				Detail: "bridged deposit amount does not match its lot's original amount",
			})
		}
	}
	return divs, nil
}

func (t *Tx) TerminalStateViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	var divs []reconciliation.Divergence
	for _, r := range t.m.st.reservations {
		if r.Status == reservation.StatusFinalized && r.FinalizedAt == nil {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckTerminalStateAbsorbing, Subject: r.ID.String(),
				Detail: "finalized reservation missing finalized_at",
			})
		}
	}
	return divs, nil
}

func (t *Tx) ActiveRuleCount(ctx context.Context) (int, error) {
	count := 0
	for _, p := range t.m.st.params {
		if p.ParamKey == revenueRuleParamKey && p.Status == governance.StatusActive {
			count++
		}
	}
	return count, nil
}

// LotMonotonicityViolations always reports clean: Original is write-once
// by construction (UpdateLot never receives a mutated Original in this
// codebase), so there is no history to check it against in-process.
func (t *Tx) LotMonotonicityViolations(ctx context.Context) ([]reconciliation.Divergence, error) {
	return nil, nil
}

func (t *Tx) StuckFinalizations(ctx context.Context) ([]reconciliation.Divergence, error) {
	var divs []reconciliation.Divergence
	for _, e := range t.m.st.outboxEvents {
		if e.EventType != outbox.EventReservationFinalized {
			continue
		}
		var resv reservation.Reservation
		if err := json.Unmarshal(e.Payload, &resv); err != nil {
			continue
		}
		current, ok := t.m.st.reservations[resv.ID]
		if !ok || current.Status != reservation.StatusFinalized {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckFinalizeAtomicity, Subject: e.EntityID,
				Detail: "outbox recorded finalize but reservation is not finalized",
			})
		}
	}
	return divs, nil
}

func (t *Tx) StaleReservations(ctx context.Context, olderThan time.Duration) ([]reconciliation.Divergence, error) {
	var divs []reconciliation.Divergence
	cutoff := t.m.clock.Now().Add(-olderThan)
	for _, r := range t.m.st.reservations {
		if r.Status == reservation.StatusPending && r.ExpiresAt.Before(cutoff) {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckReservationEventualTermination, Subject: r.ID.String(),
				Detail: "pending reservation past expiry was never swept",
			})
		}
	}
	return divs, nil
}

// TreasuryShortfalls surfaces soft-mode overruns: a lot whose Available
// has gone negative, an allowed but flagged deviation from the normal
// invariant.
func (t *Tx) TreasuryShortfalls(ctx context.Context) ([]reconciliation.Divergence, error) {
	var divs []reconciliation.Divergence
	for _, l := range t.m.st.lots {
		if l.Available < 0 {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckTreasuryAdequacy, Subject: l.ID.String(),
				Detail: fmt.Sprintf("available balance %s is negative", l.Available),
			})
		}
	}
	return divs, nil
}

func (t *Tx) UntrackedShadowOverruns(ctx context.Context) ([]reconciliation.Divergence, error) {
	var divs []reconciliation.Divergence
	for _, r := range t.m.st.reservations {
		if r.BillingMode != reservation.ModeShadow || r.Status != reservation.StatusFinalized || r.OverrunMicro <= 0 {
			continue
		}
		found := false
		for _, e := range t.m.st.entries {
			if e.ReservationID != nil && *e.ReservationID == r.ID && e.EntryType == ledgerentry.TypeShadowFinalize {
				found = true
				break
			}
		}
		if !found {
			divs = append(divs, reconciliation.Divergence{
				Check: reconciliation.CheckShadowTracking, Subject: r.ID.String(),
				Detail: "shadow overrun recorded without a shadow_finalize entry",
			})
		}
	}
	return divs, nil
}

var _ store.Store = (*Memory)(nil)
var _ store.Tx = (*Tx)(nil)
