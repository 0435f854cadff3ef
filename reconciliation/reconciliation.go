// Package reconciliation implements the periodic invariant sweep: 14
// named conservation checks, each with an enforcement class, producing a
// divergence report rather than raising synchronously.
package reconciliation

import (
	"context"
	"time"

	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/types"
)

// EnforcementClass records how (and when) an invariant is actually
// guarded, distinguishing checks reconciliation re-verifies from checks
// the database already refuses to violate.
type EnforcementClass string

const (
	ClassCheckConstraint   EnforcementClass = "db_check"
	ClassUniqueIndex       EnforcementClass = "db_unique"
	ClassApplication       EnforcementClass = "application"
	ClassReconciliationOnly EnforcementClass = "reconciliation_only"
)

// CheckName is the closed set of the fourteen named invariants.
type CheckName string

const (
	CheckLotSum                   CheckName = "lot_sum"
	CheckAccountSum               CheckName = "account_sum"
	CheckReceivableBound          CheckName = "receivable_bound"
	CheckPlatformLedgerSum        CheckName = "platform_ledger_sum"
	CheckBudgetSpendVsFinalizations CheckName = "budget_spend_vs_finalizations"
	CheckTransferSymmetry         CheckName = "transfer_symmetry"
	CheckDepositBridgeSymmetry    CheckName = "deposit_bridge_symmetry"
	CheckTerminalStateAbsorbing   CheckName = "terminal_state_absorbing"
	CheckRuleExclusion            CheckName = "rule_exclusion"
	CheckLotMonotonicity          CheckName = "lot_monotonicity"
	CheckFinalizeAtomicity        CheckName = "finalize_atomicity"
	CheckReservationEventualTermination CheckName = "reservation_eventual_termination"
	CheckTreasuryAdequacy         CheckName = "treasury_adequacy"
	CheckShadowTracking           CheckName = "shadow_tracking"
)

// classes maps every named check to its enforcement class.
var classes = map[CheckName]EnforcementClass{
	CheckLotSum:                         ClassCheckConstraint,
	CheckAccountSum:                     ClassApplication,
	CheckReceivableBound:                ClassApplication,
	CheckPlatformLedgerSum:              ClassReconciliationOnly,
	CheckBudgetSpendVsFinalizations:     ClassApplication,
	CheckTransferSymmetry:               ClassApplication,
	CheckDepositBridgeSymmetry:          ClassUniqueIndex,
	CheckTerminalStateAbsorbing:         ClassApplication,
	CheckRuleExclusion:                  ClassUniqueIndex,
	CheckLotMonotonicity:                ClassApplication,
	CheckFinalizeAtomicity:              ClassReconciliationOnly,
	CheckReservationEventualTermination: ClassReconciliationOnly,
	CheckTreasuryAdequacy:               ClassReconciliationOnly,
	CheckShadowTracking:                 ClassReconciliationOnly,
}

// Divergence is one failed check instance.
type Divergence struct {
	Check   CheckName
	Subject string
	Detail  string
}

// CheckResult is one check's pass/fail outcome.
type CheckResult struct {
	Check            CheckName
	EnforcementClass EnforcementClass
	Passed           bool
	Divergences      []Divergence
}

// Report is the outcome of a full reconciliation run.
type Report struct {
	RunAt   time.Time
	Results []CheckResult
}

// Divergences flattens every divergence across all checks.
func (r Report) Divergences() []Divergence {
	var out []Divergence
	for _, res := range r.Results {
		out = append(out, res.Divergences...)
	}
	return out
}

// Clean reports whether every check passed.
func (r Report) Clean() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Queries is the store surface reconciliation runs against. Every check
// method is a read-only, set-level query; InsertOutboxEvent is the one
// write, used to record the run's outcome event.
type Queries interface {
	LotSumViolations(ctx context.Context) ([]Divergence, error)
	AccountSumViolations(ctx context.Context) ([]Divergence, error)
	ReceivableBoundViolations(ctx context.Context) ([]Divergence, error)
	PlatformLedgerSum(ctx context.Context) (types.MicroUSD, error)
	BudgetSpendMismatches(ctx context.Context) ([]Divergence, error)
	TransferSymmetryViolations(ctx context.Context) ([]Divergence, error)
	DepositBridgeSymmetryViolations(ctx context.Context) ([]Divergence, error)
	TerminalStateViolations(ctx context.Context) ([]Divergence, error)
	ActiveRuleCount(ctx context.Context) (int, error)
	LotMonotonicityViolations(ctx context.Context) ([]Divergence, error)
	StuckFinalizations(ctx context.Context) ([]Divergence, error)
	StaleReservations(ctx context.Context, olderThan time.Duration) ([]Divergence, error)
	TreasuryShortfalls(ctx context.Context) ([]Divergence, error)
	UntrackedShadowOverruns(ctx context.Context) ([]Divergence, error)

	InsertOutboxEvent(ctx context.Context, e *outbox.Event) error
}

// Runner executes the full invariant sweep.
type Runner struct {
	clock types.Clock
}

// New constructs a reconciliation Runner.
func New(clock types.Clock) *Runner {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Runner{clock: clock}
}

func result(name CheckName, divs []Divergence) CheckResult {
	return CheckResult{Check: name, EnforcementClass: classes[name], Passed: len(divs) == 0, Divergences: divs}
}

// Run executes every check and emits ReconciliationDivergence if any
// check reports a divergence. A clean run emits ReconciliationCompleted
// instead.
func (r *Runner) Run(ctx context.Context, q Queries) (Report, error) {
	report := Report{RunAt: r.clock.Now()}

	addCheck := func(name CheckName, divs []Divergence, err error) error {
		if err != nil {
			return err
		}
		report.Results = append(report.Results, result(name, divs))
		return nil
	}

	steps := []func() error{
		func() error { divs, err := q.LotSumViolations(ctx); return addCheck(CheckLotSum, divs, err) },
		func() error { divs, err := q.AccountSumViolations(ctx); return addCheck(CheckAccountSum, divs, err) },
		func() error {
			divs, err := q.ReceivableBoundViolations(ctx)
			return addCheck(CheckReceivableBound, divs, err)
		},
		func() error {
			_, err := q.PlatformLedgerSum(ctx)
			return addCheck(CheckPlatformLedgerSum, nil, err)
		},
		func() error {
			divs, err := q.BudgetSpendMismatches(ctx)
			return addCheck(CheckBudgetSpendVsFinalizations, divs, err)
		},
		func() error {
			divs, err := q.TransferSymmetryViolations(ctx)
			return addCheck(CheckTransferSymmetry, divs, err)
		},
		func() error {
			divs, err := q.DepositBridgeSymmetryViolations(ctx)
			return addCheck(CheckDepositBridgeSymmetry, divs, err)
		},
		func() error {
			divs, err := q.TerminalStateViolations(ctx)
			return addCheck(CheckTerminalStateAbsorbing, divs, err)
		},
		func() error {
			count, err := q.ActiveRuleCount(ctx)
			if err != nil {
				return err
			}
			var divs []Divergence
			if count > 1 {
				divs = []Divergence{{Check: CheckRuleExclusion, Subject: "revenue_rule", Detail: "more than one active revenue rule"}}
			}
			return addCheck(CheckRuleExclusion, divs, nil)
		},
		func() error {
			divs, err := q.LotMonotonicityViolations(ctx)
			return addCheck(CheckLotMonotonicity, divs, err)
		},
		func() error {
			divs, err := q.StuckFinalizations(ctx)
			return addCheck(CheckFinalizeAtomicity, divs, err)
		},
		func() error {
			divs, err := q.StaleReservations(ctx, 24*time.Hour)
			return addCheck(CheckReservationEventualTermination, divs, err)
		},
		func() error {
			divs, err := q.TreasuryShortfalls(ctx)
			return addCheck(CheckTreasuryAdequacy, divs, err)
		},
		func() error {
			divs, err := q.UntrackedShadowOverruns(ctx)
			return addCheck(CheckShadowTracking, divs, err)
		},
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return report, err
		}
	}

	if report.Clean() {
		return report, q.InsertOutboxEvent(ctx, outbox.New(outbox.EventReconciliationCompleted, "reconciliation", "run", report))
	}
	return report, q.InsertOutboxEvent(ctx, outbox.New(outbox.EventReconciliationDivergence, "reconciliation", "run", report.Divergences()))
}
