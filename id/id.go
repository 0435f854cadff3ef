// Package id defines TypeID-based identity types for every credit-ledger
// entity.
//
// Every entity uses a single ID struct with a prefix that identifies the
// entity type. IDs are K-sortable (UUIDv7-based), globally unique, and
// URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all credit-ledger entity types.
const (
	PrefixAccount         Prefix = "acct"  // Credit account
	PrefixLot             Prefix = "lot"   // Credit lot
	PrefixEntry           Prefix = "entr"  // Ledger entry
	PrefixReservation     Prefix = "resv"  // Reservation
	PrefixReservationLot  Prefix = "rsln"  // Reservation-lot allocation
	PrefixDebt            Prefix = "debt"  // Refund-liability debt record
	PrefixEvent           Prefix = "evt"   // Economic event (outbox)
	PrefixConfigParam     Prefix = "cfg"   // Governance config parameter
	PrefixAgentBudget     Prefix = "abud"  // Agent daily spend budget
	PrefixTBADeposit      Prefix = "tba"   // On-chain TBA deposit
	PrefixPeerTransfer    Prefix = "ptxf"  // Peer transfer correlation
	PrefixIdempotencyKey  Prefix = "idem"  // Idempotency key record
)

// ID is the primary identifier type for all credit-ledger entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "acct_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// MustParseWithPrefix is like ParseWithPrefix but panics on error.
func MustParseWithPrefix(s string, expected Prefix) ID {
	parsed, err := ParseWithPrefix(s, expected)
	if err != nil {
		panic(fmt.Sprintf("id: must parse with prefix %q: %v", expected, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases, one per entity kind
// ──────────────────────────────────────────────────

type AccountID = ID
type LotID = ID
type EntryID = ID
type ReservationID = ID
type ReservationLotID = ID
type DebtID = ID
type EventID = ID
type ConfigParamID = ID
type AgentBudgetID = ID
type TBADepositID = ID
type PeerTransferID = ID
type IdempotencyKeyID = ID

// AnyID is a type alias that accepts any valid prefix.
type AnyID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

func NewAccountID() ID         { return New(PrefixAccount) }
func NewLotID() ID             { return New(PrefixLot) }
func NewEntryID() ID           { return New(PrefixEntry) }
func NewReservationID() ID     { return New(PrefixReservation) }
func NewReservationLotID() ID  { return New(PrefixReservationLot) }
func NewDebtID() ID            { return New(PrefixDebt) }
func NewEventID() ID           { return New(PrefixEvent) }
func NewConfigParamID() ID     { return New(PrefixConfigParam) }
func NewAgentBudgetID() ID     { return New(PrefixAgentBudget) }
func NewTBADepositID() ID      { return New(PrefixTBADeposit) }
func NewPeerTransferID() ID    { return New(PrefixPeerTransfer) }
func NewIdempotencyKeyID() ID  { return New(PrefixIdempotencyKey) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

func ParseAccountID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixAccount) }
func ParseLotID(s string) (ID, error)            { return ParseWithPrefix(s, PrefixLot) }
func ParseEntryID(s string) (ID, error)          { return ParseWithPrefix(s, PrefixEntry) }
func ParseReservationID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixReservation) }
func ParseDebtID(s string) (ID, error)           { return ParseWithPrefix(s, PrefixDebt) }
func ParseEventID(s string) (ID, error)          { return ParseWithPrefix(s, PrefixEvent) }
func ParseConfigParamID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixConfigParam) }
func ParseAgentBudgetID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixAgentBudget) }
func ParseTBADepositID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixTBADeposit) }
func ParsePeerTransferID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixPeerTransfer) }
func ParseAny(s string) (ID, error)              { return Parse(s) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
