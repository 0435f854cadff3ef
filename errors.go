package ledger

import "github.com/xraph/creditledger/ledgererr"

// Re-exported so callers that only import the top-level package can
// still branch on errors.Is(err, ledger.ErrNotFound) etc. The taxonomy
// itself lives in ledgererr so domain packages can depend on it without
// importing this root package.
var (
	ErrNotFound               = ledgererr.ErrNotFound
	ErrConflict               = ledgererr.ErrConflict
	ErrInvalidState           = ledgererr.ErrInvalidState
	ErrInsufficientBalance    = ledgererr.ErrInsufficientBalance
	ErrArithmetic             = ledgererr.ErrArithmetic
	ErrBudgetOverspend        = ledgererr.ErrBudgetOverspend
	ErrTerminalStateViolation = ledgererr.ErrTerminalStateViolation
	ErrTransferImbalance      = ledgererr.ErrTransferImbalance
	ErrDepositBridgeMismatch  = ledgererr.ErrDepositBridgeMismatch
	ErrShadowDivergence       = ledgererr.ErrShadowDivergence

	ErrInvalidInput = ledgererr.ErrInvalidInput
	ErrStoreClosed  = ledgererr.ErrStoreClosed

	ErrAccountNotFound = ledgererr.ErrAccountNotFound

	ErrLotNotFound          = ledgererr.ErrLotNotFound
	ErrDuplicateLotSource   = ledgererr.ErrDuplicateLotSource
	ErrLotOriginalImmutable = ledgererr.ErrLotOriginalImmutable

	ErrReservationNotFound      = ledgererr.ErrReservationNotFound
	ErrReservationNotPending    = ledgererr.ErrReservationNotPending
	ErrReservationIdempotent    = ledgererr.ErrReservationIdempotent
	ErrReservationAlreadyExists = ledgererr.ErrReservationAlreadyExists

	ErrRevenueRuleNotFound  = ledgererr.ErrRevenueRuleNotFound
	ErrRevenueSharesInvalid = ledgererr.ErrRevenueSharesInvalid

	ErrConfigParamNotFound  = ledgererr.ErrConfigParamNotFound
	ErrConfigSchemaMismatch = ledgererr.ErrConfigSchemaMismatch
	ErrConfigNotCoolingDown = ledgererr.ErrConfigNotCoolingDown
	ErrConfigCooldownActive = ledgererr.ErrConfigCooldownActive

	ErrAgentBudgetNotFound = ledgererr.ErrAgentBudgetNotFound

	ErrTBADepositNotFound     = ledgererr.ErrTBADepositNotFound
	ErrTBADepositNotConfirmed = ledgererr.ErrTBADepositNotConfirmed
	ErrPaymentProofInvalid    = ledgererr.ErrPaymentProofInvalid

	ErrTransactionFailed = ledgererr.ErrTransactionFailed
	ErrMigrationFailed   = ledgererr.ErrMigrationFailed
)

// ValidationError, MultiError and the IsX predicate helpers are
// re-exported as the same types/functions so existing call sites keep
// working unchanged.
type (
	ValidationError = ledgererr.ValidationError
	MultiError      = ledgererr.MultiError
)

var (
	IsNotFound  = ledgererr.IsNotFound
	IsConflict  = ledgererr.IsConflict
	IsRetryable = ledgererr.IsRetryable
)
