// Package governance implements constitutional configuration parameters:
// versioned values with a propose → approve → cooldown → activate
// lifecycle, so no parameter that moves money changes instantaneously.
package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/creditledger/counter"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/ledgererr"
)

// Status is the parameter row's lifecycle state.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusCoolingDown     Status = "cooling_down"
	StatusActive          Status = "active"
	StatusSuperseded      Status = "superseded"
	StatusRejected        Status = "rejected"
)

// ValueType is the closed set of schema-validated value shapes.
type ValueType string

const (
	TypeInteger        ValueType = "integer"
	TypeBigintMicro     ValueType = "bigint_micro"
	TypeIntegerSeconds  ValueType = "integer_seconds"
	TypeIntegerPercent  ValueType = "integer_percent"
	TypeReal            ValueType = "real"
	TypeStringEnum      ValueType = "string_enum"
	TypeNullable        ValueType = "nullable"
)

// Schema constrains what values a parameter key will accept.
type Schema struct {
	Type        ValueType
	Min         *float64
	Max         *float64
	EnumValues  []string
}

// Validate checks value against the schema.
func (s Schema) Validate(value any) error {
	switch s.Type {
	case TypeInteger, TypeBigintMicro, TypeIntegerSeconds, TypeIntegerPercent:
		n, ok := asFloat(value)
		if !ok {
			return ledgererr.ValidationError{Field: "value", Message: "expected a number"}
		}
		if n != float64(int64(n)) {
			return ledgererr.ValidationError{Field: "value", Message: "expected an integer"}
		}
		return s.checkRange(n)
	case TypeReal:
		n, ok := asFloat(value)
		if !ok {
			return ledgererr.ValidationError{Field: "value", Message: "expected a number"}
		}
		return s.checkRange(n)
	case TypeStringEnum:
		str, ok := value.(string)
		if !ok {
			return ledgererr.ValidationError{Field: "value", Message: "expected a string"}
		}
		for _, v := range s.EnumValues {
			if v == str {
				return nil
			}
		}
		return ledgererr.ValidationError{Field: "value", Message: fmt.Sprintf("%q not in enum", str)}
	case TypeNullable:
		return nil
	default:
		return ledgererr.ValidationError{Field: "type", Message: "unknown schema type"}
	}
}

func (s Schema) checkRange(n float64) error {
	if s.Min != nil && n < *s.Min {
		return ledgererr.ValidationError{Field: "value", Message: "below minimum"}
	}
	if s.Max != nil && n > *s.Max {
		return ledgererr.ValidationError{Field: "value", Message: "above maximum"}
	}
	return nil
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// globalEntityType is the COALESCE sentinel used in place of SQL NULL so
// the partial unique index on (param_key, entity_type) treats every
// global row as colliding with every other global row, exactly as NULL
// would if standard SQL let NULL equal NULL.
const globalEntityType = "__global__"

// Parameter is one versioned row for a (param_key, entity_type) pair.
type Parameter struct {
	ID               id.ConfigParamID `json:"id"`
	ParamKey         string           `json:"param_key"`
	EntityType       string           `json:"entity_type"`
	ValueJSON        string           `json:"value_json"`
	ConfigVersion    int64            `json:"config_version"`
	Status           Status           `json:"status"`
	Approvals        int              `json:"approvals"`
	RequiredApprovals int             `json:"required_approvals"`
	CooldownEndsAt   *time.Time       `json:"cooldown_ends_at,omitempty"`
	ActivatedAt      *time.Time       `json:"activated_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// IsGlobal reports whether this row is the global default rather than an
// entity-type override.
func (p *Parameter) IsGlobal() bool {
	return p.EntityType == "" || p.EntityType == globalEntityType
}

// NormalizeEntityType maps an empty entity type to the global sentinel.
func NormalizeEntityType(entityType string) string {
	if entityType == "" {
		return globalEntityType
	}
	return entityType
}

// DefaultCooldown is used when a parameter doesn't specify its own
// cooldown_seconds.
const DefaultCooldown = 24 * time.Hour

// TxStore is the store slice the governance service needs.
type TxStore interface {
	GetActiveParameter(ctx context.Context, key, entityType string) (*Parameter, error)
	GetParameterForUpdate(ctx context.Context, paramID id.ConfigParamID) (*Parameter, error)
	InsertParameter(ctx context.Context, p *Parameter) error
	UpdateParameter(ctx context.Context, p *Parameter) error
	ListCoolingDown(ctx context.Context, now time.Time) ([]*Parameter, error)
}

// Service implements the governance lifecycle.
type Service struct {
	schemas  map[string]Schema
	versions counter.Counter
}

// Option configures a governance Service.
type Option func(*Service)

// WithVersionCounter overrides the backend that allocates config_version
// numbers. The default is an in-process counter.Memory, which is
// sufficient for store/memory but resets across restarts; production
// deployments over store/sqlite or store/postgres should supply a
// counter.Relational wired to that store's config_version_seq table so
// version numbers survive a process restart.
func WithVersionCounter(c counter.Counter) Option {
	return func(s *Service) { s.versions = c }
}

// New constructs a governance Service with the given param-key schema
// registry.
func New(schemas map[string]Schema, opts ...Option) *Service {
	s := &Service{schemas: schemas, versions: counter.NewMemory()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// versionKey scopes the version sequence to one (param_key, entity_type)
// pair, matching the partial unique index the parameter table enforces.
func versionKey(key, entityType string) string {
	return key + "|" + NormalizeEntityType(entityType)
}

// Propose validates value against the key's schema and inserts a draft
// row that immediately moves to pending_approval.
func (s *Service) Propose(ctx context.Context, tx TxStore, key, entityType, valueJSON string, value any, requiredApprovals int) (*Parameter, error) {
	schema, ok := s.schemas[key]
	if !ok {
		return nil, fmt.Errorf("governance: no schema registered for %q: %w", key, ledgererr.ErrConfigParamNotFound)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("governance: %w", err)
	}

	if requiredApprovals <= 0 {
		requiredApprovals = 2
	}

	version, err := s.versions.Increment(ctx, versionKey(key, entityType), 1)
	if err != nil {
		return nil, fmt.Errorf("governance: allocate version for %q: %w", key, err)
	}

	p := &Parameter{
		ID:                id.NewConfigParamID(),
		ParamKey:          key,
		EntityType:        NormalizeEntityType(entityType),
		ValueJSON:         valueJSON,
		ConfigVersion:     version,
		Status:            StatusPendingApproval,
		RequiredApprovals: requiredApprovals,
		CreatedAt:         time.Now().UTC(),
	}
	if err := tx.InsertParameter(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Approve records one approval. On the Nth approval the row moves to
// cooling_down.
func (s *Service) Approve(ctx context.Context, tx TxStore, paramID id.ConfigParamID, cooldown time.Duration) (*Parameter, error) {
	p, err := tx.GetParameterForUpdate(ctx, paramID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPendingApproval && p.Status != StatusCoolingDown {
		return nil, fmt.Errorf("governance: %s is not awaiting approval: %w", paramID, ledgererr.ErrInvalidState)
	}
	p.Approvals++
	if p.Approvals >= p.RequiredApprovals && p.Status == StatusPendingApproval {
		if cooldown <= 0 {
			cooldown = DefaultCooldown
		}
		ends := time.Now().UTC().Add(cooldown)
		p.Status = StatusCoolingDown
		p.CooldownEndsAt = &ends
	}
	if err := tx.UpdateParameter(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Reject marks a pending parameter rejected, a terminal state.
func (s *Service) Reject(ctx context.Context, tx TxStore, paramID id.ConfigParamID) (*Parameter, error) {
	p, err := tx.GetParameterForUpdate(ctx, paramID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusActive || p.Status == StatusSuperseded || p.Status == StatusRejected {
		return nil, fmt.Errorf("governance: %s cannot be rejected from %s: %w", paramID, p.Status, ledgererr.ErrInvalidState)
	}
	p.Status = StatusRejected
	if err := tx.UpdateParameter(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Activate promotes a cooling_down row whose cooldown has elapsed to
// active, superseding the previously active row of the same
// (param_key, entity_type) pair in the same transaction. Returns
// ErrConfigCooldownActive if called before cooldown_ends_at.
func (s *Service) Activate(ctx context.Context, tx TxStore, paramID id.ConfigParamID, now time.Time) (*Parameter, error) {
	p, err := tx.GetParameterForUpdate(ctx, paramID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusCoolingDown {
		return nil, fmt.Errorf("governance: %s is not cooling down: %w", paramID, ledgererr.ErrConfigNotCoolingDown)
	}
	if p.CooldownEndsAt == nil || now.Before(*p.CooldownEndsAt) {
		return nil, fmt.Errorf("governance: %s cooldown has not elapsed: %w", paramID, ledgererr.ErrConfigCooldownActive)
	}

	if previous, err := tx.GetActiveParameter(ctx, p.ParamKey, p.EntityType); err == nil && previous != nil && previous.ID != p.ID {
		previous.Status = StatusSuperseded
		if err := tx.UpdateParameter(ctx, previous); err != nil {
			return nil, err
		}
	}

	p.Status = StatusActive
	p.ActivatedAt = &now
	if err := tx.UpdateParameter(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ActivateDue sweeps every cooling_down row whose cooldown has elapsed
// and activates it. Intended to run on an independent schedule.
func (s *Service) ActivateDue(ctx context.Context, tx TxStore, now time.Time) ([]*Parameter, error) {
	due, err := tx.ListCoolingDown(ctx, now)
	if err != nil {
		return nil, err
	}
	activated := make([]*Parameter, 0, len(due))
	for _, p := range due {
		a, err := s.Activate(ctx, tx, p.ID, now)
		if err != nil {
			return activated, err
		}
		activated = append(activated, a)
	}
	return activated, nil
}
