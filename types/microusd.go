package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MicroUSD represents a monetary amount in millionths of one US dollar
// (1 MicroUSD = $0.000001). All ledger arithmetic happens in this unit so
// that fractional-cent charges (metered inference billing, revenue splits)
// never round away value. The domain is bounded to keep a single entry
// comfortably inside an int64 and to give overflow a name instead of a
// silent wraparound.
type MicroUSD int64

// MaxMicroUSD is the largest representable amount: $1,000,000,000.00.
const MaxMicroUSD MicroUSD = 1_000_000_000_000_000

// ZeroUSD is the additive identity.
const ZeroUSD MicroUSD = 0

// ArithmeticErrorKind enumerates why a MicroUSD operation was refused.
type ArithmeticErrorKind string

const (
	KindNegativeOperand ArithmeticErrorKind = "negative_operand"
	KindBelowZero       ArithmeticErrorKind = "below_zero"
	KindAboveCeiling    ArithmeticErrorKind = "above_ceiling"
	KindDivisorZero     ArithmeticErrorKind = "divisor_zero"
	KindBPSOutOfRange   ArithmeticErrorKind = "bps_out_of_range"
	KindBPSSumMismatch  ArithmeticErrorKind = "bps_sum_mismatch"
)

// ArithmeticError reports a refused monetary operation with enough detail
// to reconstruct what was attempted.
type ArithmeticError struct {
	Op       string
	Operands []int64
	Kind     ArithmeticErrorKind
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("types: arithmetic error in %s%v: %s", e.Op, e.Operands, e.Kind)
}

// Add returns m+other. Fails closed: never wraps past MaxMicroUSD.
func (m MicroUSD) Add(other MicroUSD) (MicroUSD, error) {
	sum := m + other
	if sum < m || sum < other {
		return 0, &ArithmeticError{Op: "Add", Operands: []int64{int64(m), int64(other)}, Kind: KindAboveCeiling}
	}
	if sum > MaxMicroUSD {
		return 0, &ArithmeticError{Op: "Add", Operands: []int64{int64(m), int64(other)}, Kind: KindAboveCeiling}
	}
	return sum, nil
}

// Sub returns m-other. Fails closed: never goes negative.
func (m MicroUSD) Sub(other MicroUSD) (MicroUSD, error) {
	if other > m {
		return 0, &ArithmeticError{Op: "Sub", Operands: []int64{int64(m), int64(other)}, Kind: KindBelowZero}
	}
	return m - other, nil
}

// IsZero reports whether the amount is exactly zero.
func (m MicroUSD) IsZero() bool { return m == 0 }

// IsPositive reports whether the amount is strictly greater than zero.
func (m MicroUSD) IsPositive() bool { return m > 0 }

// LessThan reports m < other.
func (m MicroUSD) LessThan(other MicroUSD) bool { return m < other }

// GreaterThan reports m > other.
func (m MicroUSD) GreaterThan(other MicroUSD) bool { return m > other }

// DisplayUSD converts to the teacher's multi-currency Money type for
// human-facing rendering at the boundary of the system (receipts,
// reconciliation reports). Internal arithmetic never uses Money.
func (m MicroUSD) DisplayUSD() Money {
	return Money{Amount: int64(m) / 10_000, Currency: "usd"}
}

// String renders the canonical decimal form, e.g. "12.340000".
func (m MicroUSD) String() string {
	neg := m < 0
	v := int64(m)
	if neg {
		v = -v
	}
	major := v / 1_000_000
	minor := v % 1_000_000
	s := fmt.Sprintf("%d.%06d", major, minor)
	if neg {
		s = "-" + s
	}
	return s
}

// MarshalJSON renders MicroUSD as a canonical decimal string, never
// scientific notation, so downstream consumers never lose precision to a
// float64 round-trip.
func (m MicroUSD) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a canonical decimal string or a bare JSON
// integer (micro-units), for compatibility with older producers.
func (m *MicroUSD) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseMicroUSD(s, ModeEnforce)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("types: cannot unmarshal MicroUSD from %s", data)
	}
	*m = MicroUSD(n)
	return nil
}

// BPS is a basis-points share in [0, 10000] (100.00%).
type BPS int

const MaxBPS BPS = 10000

// BPSShare returns the share of m represented by bps basis points,
// truncating any fractional micro-unit (the remainder is the caller's
// responsibility to reconcile against the total, per the zero-sum
// distribution invariant).
func (m MicroUSD) BPSShare(bps BPS) MicroUSD {
	return MicroUSD(int64(m) * int64(bps) / int64(MaxBPS))
}

// AssertSumTo10000 validates that three revenue-split shares add up to
// exactly 10000 basis points, the invariant the revenue distributor relies
// on before it ever touches a MicroUSD charge.
func AssertSumTo10000(a, b, c BPS) error {
	for _, v := range []BPS{a, b, c} {
		if v < 0 || v > MaxBPS {
			return &ArithmeticError{Op: "AssertSumTo10000", Operands: []int64{int64(a), int64(b), int64(c)}, Kind: KindBPSOutOfRange}
		}
	}
	if a+b+c != MaxBPS {
		return &ArithmeticError{Op: "AssertSumTo10000", Operands: []int64{int64(a), int64(b), int64(c)}, Kind: KindBPSSumMismatch}
	}
	return nil
}

// ParseMode selects the strictness of ParseMicroUSD.
type ParseMode string

const (
	// ModeEnforce accepts only a bare non-negative integer string of
	// micro-units: "0" or "[1-9][0-9]*". This is the steady-state parser.
	ModeEnforce ParseMode = "enforce"

	// ModeLegacy additionally trims surrounding whitespace, accepts a
	// leading '+', and strips redundant leading zeros, matching producers
	// that predate the strict micro-unit contract. It is kept only for the
	// migration window and is expected to be retired once ShadowParser
	// reports zero divergences for a full reconciliation cycle.
	ModeLegacy ParseMode = "legacy"
)

var strictPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// ParseMicroUSD parses a decimal string of integer micro-units according to
// mode.
func ParseMicroUSD(s string, mode ParseMode) (MicroUSD, error) {
	raw := s
	if mode == ModeLegacy {
		raw = strings.TrimSpace(raw)
		raw = strings.TrimPrefix(raw, "+")
		if len(raw) > 1 {
			raw = strings.TrimLeft(raw, "0")
			if raw == "" {
				raw = "0"
			}
		}
	}
	if !strictPattern.MatchString(raw) {
		return 0, fmt.Errorf("types: invalid MicroUSD literal %q", s)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("types: invalid MicroUSD literal %q: %w", s, err)
	}
	if n < 0 {
		return 0, &ArithmeticError{Op: "ParseMicroUSD", Operands: []int64{n}, Kind: KindNegativeOperand}
	}
	if MicroUSD(n) > MaxMicroUSD {
		return 0, &ArithmeticError{Op: "ParseMicroUSD", Operands: []int64{n}, Kind: KindAboveCeiling}
	}
	return MicroUSD(n), nil
}

// DivergenceRecorder is notified whenever ShadowParser's two parse modes
// disagree on the same input. The only implementation in this module is
// NoopDivergenceRecorder; callers supply their own to collect divergences.
type DivergenceRecorder interface {
	RecordDivergence(input string, legacy, enforce MicroUSD, enforceErr error)
}

// NoopDivergenceRecorder discards every divergence. Used where no shadow
// migration is in flight.
type NoopDivergenceRecorder struct{}

func (NoopDivergenceRecorder) RecordDivergence(string, MicroUSD, MicroUSD, error) {}

// ShadowParser runs both parse modes on every input and reports any
// divergence to rec, but always returns the ModeLegacy result so callers
// keep working uninterrupted during the migration window.
type ShadowParser struct {
	Recorder DivergenceRecorder
}

// Parse runs both modes and returns the legacy-mode result.
func (p ShadowParser) Parse(s string) (MicroUSD, error) {
	legacy, legacyErr := ParseMicroUSD(s, ModeLegacy)
	enforce, enforceErr := ParseMicroUSD(s, ModeEnforce)

	rec := p.Recorder
	if rec == nil {
		rec = NoopDivergenceRecorder{}
	}
	if legacyErr == nil && (enforceErr != nil || legacy != enforce) {
		rec.RecordDivergence(s, legacy, enforce, enforceErr)
	}
	return legacy, legacyErr
}
