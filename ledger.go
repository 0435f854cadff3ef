package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/bridge"
	"github.com/xraph/creditledger/budget"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/meter"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/reconciliation"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/types"
)

// RuleCacheInvalidator is implemented by store backends that cache the
// active revenue split rule in process and need to be told when a
// governance activation supersedes it. store/memory.Memory satisfies
// this; a relational backend with no in-process cache can leave it nil.
type RuleCacheInvalidator interface {
	InvalidateRuleCache()
}

// CreditLedger is the credit-ledger engine: accounts hold lots, lots
// back reservations, reservations settle through revenue distribution,
// and governance parameters gate anything that moves money.
type CreditLedger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	reservations  *reservation.Engine
	governanceSvc *governance.Service
	budgetSvc     *budget.Service
	bridgeSvc     *bridge.Service
	reconciler    *reconciliation.Runner
	meter         *meter.Meter

	clock types.Clock

	stopChan chan struct{}
	wg       sync.WaitGroup

	staleReservationSweep time.Duration
}

// New creates a CreditLedger over the given store. The store determines
// durability; store/memory is suitable for tests and single-process
// demos, store/sqlite and store/postgres for production.
func New(s store.Store, opts ...Option) *CreditLedger {
	clock := types.SystemClock{}

	cl := &CreditLedger{
		store:                 s,
		plugins:               plugin.NewRegistry(),
		logger:                slog.Default(),
		clock:                 clock,
		reservations:          reservation.New(clock),
		governanceSvc:         governance.New(defaultSchemas()),
		budgetSvc:             budget.NewService(clock),
		reconciler:            reconciliation.New(clock),
		stopChan:              make(chan struct{}),
		staleReservationSweep: time.Hour,
	}
	cl.bridgeSvc = bridge.New(cl.reservations)

	for _, opt := range opts {
		opt(cl)
	}

	if cl.meter == nil {
		cl.meter = meter.New(storeTransactor{cl.store}, cl.reservations, meter.WithLogger(cl.logger), cl.onFlushOption())
	}

	return cl
}

func (cl *CreditLedger) onFlushOption() meter.Option {
	return meter.WithOnFlush(func(ctx context.Context, count int, elapsed time.Duration) {
		cl.plugins.EmitMeterFlushed(ctx, count, elapsed)
	})
}

// Option configures a CreditLedger instance.
type Option func(*CreditLedger)

// WithLogger sets the logger used by the ledger, its plugin registry,
// and (if constructed after this option runs) its meter.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *CreditLedger) {
		cl.logger = logger
		cl.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin at construction time.
func WithPlugin(p plugin.Plugin) Option {
	return func(cl *CreditLedger) {
		_ = cl.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock overrides the system clock, for deterministic tests.
func WithClock(clock types.Clock) Option {
	return func(cl *CreditLedger) {
		cl.clock = clock
		cl.reservations = reservation.New(clock)
		cl.bridgeSvc = bridge.New(cl.reservations)
		cl.budgetSvc = budget.NewService(clock)
		cl.reconciler = reconciliation.New(clock)
	}
}

// WithGovernanceSchemas replaces the default governance parameter schema
// registry.
func WithGovernanceSchemas(schemas map[string]governance.Schema) Option {
	return func(cl *CreditLedger) {
		cl.governanceSvc = governance.New(schemas)
	}
}

// WithMeterConfig configures the usage-metering batch size and flush
// interval.
func WithMeterConfig(batchSize int, flushInterval time.Duration) Option {
	return func(cl *CreditLedger) {
		cl.meter = meter.New(storeTransactor{cl.store}, cl.reservations,
			meter.WithLogger(cl.logger), meter.WithBatch(batchSize, flushInterval), cl.onFlushOption())
	}
}

// WithStaleReservationSweep stores a stale-reservation sweep duration on
// the ledger. The ledger does not read the value: Reconcile's
// stale-reservation check uses a fixed 24-hour horizon, and Start spawns
// no expiry sweeper.
func WithStaleReservationSweep(d time.Duration) Option {
	return func(cl *CreditLedger) {
		cl.staleReservationSweep = d
	}
}

// defaultSchemas registers the constitutional parameters the spec names
// explicitly: the revenue split rule and the default reservation TTL.
func defaultSchemas() map[string]governance.Schema {
	return map[string]governance.Schema{
		"revenue.split_rule":          {Type: governance.TypeNullable},
		"reservation.default_ttl_seconds": {Type: governance.TypeIntegerSeconds, Min: floatPtr(1)},
	}
}

func floatPtr(f float64) *float64 { return &f }

// storeTransactor adapts store.Store to meter.Transactor, narrowing the
// Tx parameter the meter's flush loop sees to reservation.TxStore.
type storeTransactor struct {
	s store.Store
}

func (t storeTransactor) RunInTx(ctx context.Context, fn func(ctx context.Context, tx reservation.TxStore) error) error {
	return t.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, tx)
	})
}

// Start migrates the store, fires OnInit, and spawns background workers.
func (cl *CreditLedger) Start(ctx context.Context) error {
	if err := cl.store.Migrate(ctx); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}

	cl.plugins.EmitInit(ctx, cl)
	cl.meter.Start(ctx)

	cl.logger.Info("credit ledger started")
	return nil
}

// Stop joins background workers, fires OnShutdown, and closes the store.
func (cl *CreditLedger) Stop() error {
	cl.meter.Stop()
	close(cl.stopChan)

	ctx := context.Background()
	cl.plugins.EmitShutdown(ctx)

	return cl.store.Close()
}

// ──────────────────────────────────────────────────
// Accounts and lots
// ──────────────────────────────────────────────────

// EnsureAccount returns the account for (entityType, entityID), creating
// it if it doesn't exist yet.
func (cl *CreditLedger) EnsureAccount(ctx context.Context, entityType account.Type, entityID string) (*account.Account, error) {
	var out *account.Account
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if existing, err := tx.GetAccountByKey(ctx, entityType, entityID); err == nil && existing != nil {
			out = existing
			return nil
		}
		created, err := tx.CreateAccount(ctx, entityType, entityID)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

// MintLot creates a fresh credit lot for accountID in pool, from the
// given source. Direct callers (grants, purchases) get strict
// duplicate-source detection; the bridge's own convergence-on-collision
// logic bypasses this by checking FindLotBySource first.
func (cl *CreditLedger) MintLot(ctx context.Context, accountID id.AccountID, pool string, sourceType lot.SourceType, sourceID string, amount types.MicroUSD, expiresAt *time.Time) (*lot.Lot, error) {
	if pool == "" {
		pool = lot.GeneralPool
	}
	var out *lot.Lot
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.MintLot(ctx, accountID, pool, sourceType, sourceID, amount, expiresAt)
		if err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	cl.plugins.EmitLotMinted(ctx, out)
	return out, nil
}

// ──────────────────────────────────────────────────
// Reservations
// ──────────────────────────────────────────────────

// Reserve holds amount out of accountID's pool via FIFO allocation
// across eligible lots.
func (cl *CreditLedger) Reserve(ctx context.Context, accountID id.AccountID, amount types.MicroUSD, opts reservation.Options) (*reservation.Reservation, error) {
	var out *reservation.Reservation
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := cl.reservations.Reserve(ctx, tx, accountID, amount, opts)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	cl.plugins.EmitReservationCreated(ctx, out)
	return out, nil
}

// Finalize settles a pending reservation at actualCost.
func (cl *CreditLedger) Finalize(ctx context.Context, resID id.ReservationID, actualCost types.MicroUSD) (*reservation.Result, error) {
	var out *reservation.Result
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res, err := cl.reservations.Finalize(ctx, tx, resID, actualCost)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	cl.plugins.EmitReservationFinalized(ctx, out)
	return out, nil
}

// Release returns a pending reservation's full amount to Available.
func (cl *CreditLedger) Release(ctx context.Context, resID id.ReservationID) (*reservation.Reservation, error) {
	var out *reservation.Reservation
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := cl.reservations.Release(ctx, tx, resID)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	cl.plugins.EmitReservationReleased(ctx, out)
	return out, nil
}

// Expire is the sweeper's path for a reservation past its ExpiresAt.
func (cl *CreditLedger) Expire(ctx context.Context, resID id.ReservationID) (*reservation.Reservation, error) {
	var out *reservation.Reservation
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := cl.reservations.Expire(ctx, tx, resID)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	cl.plugins.EmitReservationReleased(ctx, out)
	return out, nil
}

// ──────────────────────────────────────────────────
// Agent budgets
// ──────────────────────────────────────────────────

// SetAgentBudget creates or updates the daily spend cap for an agent's
// account.
func (cl *CreditLedger) SetAgentBudget(ctx context.Context, accountID id.AccountID, dailyCap types.MicroUSD) (*budget.Budget, error) {
	var out *budget.Budget
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.UpsertBudget(ctx, accountID, dailyCap)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// CheckBudget admits amount into an agent's current spend window, or
// rejects it if it would exceed the daily cap. Either way it fires the
// matching plugin hook if the circuit state moved to warning or open.
func (cl *CreditLedger) CheckBudget(ctx context.Context, accountID id.AccountID, amount types.MicroUSD) (budget.CheckResult, error) {
	var out budget.CheckResult
	var snapshot *budget.Budget
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res, cerr := cl.budgetSvc.CheckAndReserve(ctx, tx, accountID, amount)
		out = res
		if b, berr := tx.GetBudgetForUpdate(ctx, accountID); berr == nil {
			snapshot = b
		}
		return cerr
	})
	if snapshot != nil {
		switch snapshot.CircuitState {
		case budget.CircuitOpen:
			cl.plugins.EmitAgentBudgetExhausted(ctx, snapshot)
		case budget.CircuitWarning:
			cl.plugins.EmitAgentBudgetWarning(ctx, snapshot)
		}
	}
	return out, err
}

// RecordBudgetFinalization idempotently records a settled charge against
// an agent's budget window, keyed by (account, reservation).
func (cl *CreditLedger) RecordBudgetFinalization(ctx context.Context, accountID id.AccountID, resID id.ReservationID, amount types.MicroUSD) error {
	return cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return cl.budgetSvc.RecordFinalization(ctx, tx, accountID, resID, amount)
	})
}

// ──────────────────────────────────────────────────
// Governance
// ──────────────────────────────────────────────────

// ProposeConfig validates and inserts a draft governance parameter,
// immediately advancing it to pending_approval.
func (cl *CreditLedger) ProposeConfig(ctx context.Context, key, entityType, valueJSON string, value any, requiredApprovals int) (*governance.Parameter, error) {
	var out *governance.Parameter
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := cl.governanceSvc.Propose(ctx, tx, key, entityType, valueJSON, value, requiredApprovals)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	cl.plugins.EmitConfigProposed(ctx, out)
	return out, nil
}

// ApproveConfig records one approval; on the Nth approval the parameter
// enters its cooldown window.
func (cl *CreditLedger) ApproveConfig(ctx context.Context, paramID id.ConfigParamID, cooldown time.Duration) (*governance.Parameter, error) {
	var out *governance.Parameter
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := cl.governanceSvc.Approve(ctx, tx, paramID, cooldown)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// ActivateConfig promotes a cooled-down parameter to active, superseding
// any previously active row for the same key. If the store caches the
// revenue split rule in process, that cache is invalidated after every
// successful activation, whatever its key, so the next distribution sees
// any new split.
func (cl *CreditLedger) ActivateConfig(ctx context.Context, paramID id.ConfigParamID) (*governance.Parameter, error) {
	now := cl.clock.Now()
	var out *governance.Parameter
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := cl.governanceSvc.Activate(ctx, tx, paramID, now)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if inv, ok := cl.store.(RuleCacheInvalidator); ok {
		inv.InvalidateRuleCache()
	}
	cl.plugins.EmitConfigActivated(ctx, out)
	return out, nil
}

// ActivateDueConfigs sweeps every cooling-down parameter whose cooldown
// has elapsed and activates it. Intended to run on its own schedule,
// independent of any one parameter's approval flow.
func (cl *CreditLedger) ActivateDueConfigs(ctx context.Context) ([]*governance.Parameter, error) {
	now := cl.clock.Now()
	var out []*governance.Parameter
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		activated, err := cl.governanceSvc.ActivateDue(ctx, tx, now)
		out = activated
		return err
	})
	if err != nil {
		return out, err
	}
	if len(out) > 0 {
		if inv, ok := cl.store.(RuleCacheInvalidator); ok {
			inv.InvalidateRuleCache()
		}
	}
	for _, p := range out {
		cl.plugins.EmitConfigActivated(ctx, p)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Bridge: TBA deposits and peer transfers
// ──────────────────────────────────────────────────

// DetectDeposit records a newly observed on-chain deposit, idempotent on
// TxHash.
func (cl *CreditLedger) DetectDeposit(ctx context.Context, accountID id.AccountID, txHash string, amount types.MicroUSD) (*bridge.Deposit, error) {
	var out *bridge.Deposit
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := cl.bridgeSvc.Detect(ctx, tx, accountID, txHash, amount)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

// ConfirmDeposit moves a detected deposit to confirmed.
func (cl *CreditLedger) ConfirmDeposit(ctx context.Context, depositID id.TBADepositID) (*bridge.Deposit, error) {
	var out *bridge.Deposit
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := cl.bridgeSvc.Confirm(ctx, tx, depositID)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

// BridgeDeposit mints the deposit's lot and marks it bridged.
func (cl *CreditLedger) BridgeDeposit(ctx context.Context, depositID id.TBADepositID) (*bridge.Deposit, error) {
	var out *bridge.Deposit
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := cl.bridgeSvc.Bridge(ctx, tx, depositID)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	cl.plugins.EmitTbaDepositBridged(ctx, out)
	return out, nil
}

// FailDeposit marks a deposit terminally failed.
func (cl *CreditLedger) FailDeposit(ctx context.Context, depositID id.TBADepositID, reason string) (*bridge.Deposit, error) {
	var out *bridge.Deposit
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := cl.bridgeSvc.Fail(ctx, tx, depositID, reason)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

// InitiatePeerTransfer debits sender and credits receiver within one
// transaction, tagged with a single correlation ID.
func (cl *CreditLedger) InitiatePeerTransfer(ctx context.Context, senderID, receiverID id.AccountID, amount types.MicroUSD, pool string) (string, error) {
	var correlationID string
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cid, err := cl.bridgeSvc.PeerTransfer(ctx, tx, senderID, receiverID, amount, pool)
		correlationID = cid
		return err
	})
	if err != nil {
		return "", err
	}
	cl.plugins.EmitPeerTransferCompleted(ctx, correlationID)
	return correlationID, nil
}

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

// Reconcile runs the full fourteen-point invariant sweep in one
// transaction, whose only write is the run's outcome event in the
// outbox, and fires OnReconciliationCompleted or
// OnReconciliationDivergence depending on the outcome.
func (cl *CreditLedger) Reconcile(ctx context.Context) (reconciliation.Report, error) {
	var out reconciliation.Report
	err := cl.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		report, err := cl.reconciler.Run(ctx, tx)
		out = report
		return err
	})
	if err != nil {
		return out, err
	}
	if out.Clean() {
		cl.plugins.EmitReconciliationCompleted(ctx, &out)
	} else {
		cl.plugins.EmitReconciliationDivergence(ctx, &out)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Usage metering
// ──────────────────────────────────────────────────

// IngestMeterEvent buffers a usage event for settlement on the next
// batch flush. Non-blocking.
func (cl *CreditLedger) IngestMeterEvent(event *meter.UsageEvent) error {
	return cl.meter.Ingest(event)
}
