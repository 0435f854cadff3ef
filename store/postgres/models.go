// Package postgres implements store.Store using PostgreSQL via Grove ORM,
// the durable multi-node backend for production deployments; store/sqlite
// covers single-node durability and store/memory covers tests.
package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/bridge"
	"github.com/xraph/creditledger/budget"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/ledgerentry"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/reservation"
	"github.com/xraph/creditledger/types"
)

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:creditledger_accounts"`

	ID         string `grove:"id,pk"`
	EntityType string `grove:"entity_type"`
	EntityID   string `grove:"entity_id"`
	Version    int64  `grove:"version"`
	CreatedAt  time.Time `grove:"created_at"`
	UpdatedAt  time.Time `grove:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:         a.ID.String(),
		EntityType: string(a.EntityType),
		EntityID:   a.EntityID,
		Version:    a.Version,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	acctID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Entity:     types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:         acctID,
		EntityType: account.Type(m.EntityType),
		EntityID:   m.EntityID,
		Version:    m.Version,
	}, nil
}

// ==================== Lot models ====================

type lotModel struct {
	grove.BaseModel `grove:"table:creditledger_lots"`

	ID         string     `grove:"id,pk"`
	AccountID  string     `grove:"account_id"`
	Pool       string     `grove:"pool"`
	SourceType string     `grove:"source_type"`
	SourceID   string     `grove:"source_id"`
	Original   int64      `grove:"original"`
	Available  int64      `grove:"available"`
	Reserved   int64      `grove:"reserved"`
	Consumed   int64      `grove:"consumed"`
	ExpiresAt  *time.Time `grove:"expires_at"`
	CreatedAt  time.Time  `grove:"created_at"`
	UpdatedAt  time.Time  `grove:"updated_at"`
}

func toLotModel(l *lot.Lot) *lotModel {
	return &lotModel{
		ID:         l.ID.String(),
		AccountID:  l.AccountID.String(),
		Pool:       l.Pool,
		SourceType: string(l.SourceType),
		SourceID:   l.SourceID,
		Original:   int64(l.Original),
		Available:  int64(l.Available),
		Reserved:   int64(l.Reserved),
		Consumed:   int64(l.Consumed),
		ExpiresAt:  l.ExpiresAt,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}
}

func fromLotModel(m *lotModel) (*lot.Lot, error) {
	lotID, err := id.ParseLotID(m.ID)
	if err != nil {
		return nil, err
	}
	acctID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &lot.Lot{
		Entity:     types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:         lotID,
		AccountID:  acctID,
		Pool:       m.Pool,
		SourceType: lot.SourceType(m.SourceType),
		SourceID:   m.SourceID,
		Original:   types.MicroUSD(m.Original),
		Available:  types.MicroUSD(m.Available),
		Reserved:   types.MicroUSD(m.Reserved),
		Consumed:   types.MicroUSD(m.Consumed),
		ExpiresAt:  m.ExpiresAt,
	}, nil
}

// ==================== Balance models ====================

type balanceModel struct {
	grove.BaseModel `grove:"table:creditledger_balances"`

	AccountID string `grove:"account_id,pk"`
	Pool      string `grove:"pool,pk"`
	Available int64  `grove:"available"`
	Reserved  int64  `grove:"reserved"`
	UpdatedAt time.Time `grove:"updated_at"`
}

// ==================== Ledger entry / sequence models ====================

type entryModel struct {
	grove.BaseModel `grove:"table:creditledger_entries"`

	ID             string  `grove:"id,pk"`
	AccountID      string  `grove:"account_id"`
	Pool           string  `grove:"pool"`
	LotID          *string `grove:"lot_id"`
	ReservationID  *string `grove:"reservation_id"`
	EntrySeq       int64   `grove:"entry_seq"`
	EntryType      string  `grove:"entry_type"`
	Amount         int64   `grove:"amount"`
	IdempotencyKey string  `grove:"idempotency_key"`
	PreBalance     *int64  `grove:"pre_balance"`
	PostBalance    *int64  `grove:"post_balance"`
	CreatedAt      time.Time `grove:"created_at"`
}

func toEntryModel(e *ledgerentry.Entry) *entryModel {
	m := &entryModel{
		ID:             e.ID.String(),
		AccountID:      e.AccountID.String(),
		Pool:           e.Pool,
		EntrySeq:       e.EntrySeq,
		EntryType:      string(e.EntryType),
		Amount:         int64(e.Amount),
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt,
	}
	if e.LotID != nil {
		s := e.LotID.String()
		m.LotID = &s
	}
	if e.ReservationID != nil {
		s := e.ReservationID.String()
		m.ReservationID = &s
	}
	if e.PreBalance != nil {
		v := int64(*e.PreBalance)
		m.PreBalance = &v
	}
	if e.PostBalance != nil {
		v := int64(*e.PostBalance)
		m.PostBalance = &v
	}
	return m
}

func fromEntryModel(m *entryModel) (*ledgerentry.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	acctID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	e := &ledgerentry.Entry{
		ID:             entryID,
		AccountID:      acctID,
		Pool:           m.Pool,
		EntrySeq:       m.EntrySeq,
		EntryType:      ledgerentry.Type(m.EntryType),
		Amount:         types.MicroUSD(m.Amount),
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      m.CreatedAt,
	}
	if m.LotID != nil {
		lotID, err := id.ParseLotID(*m.LotID)
		if err != nil {
			return nil, err
		}
		e.LotID = &lotID
	}
	if m.ReservationID != nil {
		resID, err := id.ParseReservationID(*m.ReservationID)
		if err != nil {
			return nil, err
		}
		e.ReservationID = &resID
	}
	if m.PreBalance != nil {
		v := types.MicroUSD(*m.PreBalance)
		e.PreBalance = &v
	}
	if m.PostBalance != nil {
		v := types.MicroUSD(*m.PostBalance)
		e.PostBalance = &v
	}
	return e, nil
}

type sequenceModel struct {
	grove.BaseModel `grove:"table:creditledger_sequences"`

	AccountID string `grove:"account_id,pk"`
	Pool      string `grove:"pool,pk"`
	NextSeq   int64  `grove:"next_seq"`
}

// ==================== Reservation models ====================

type reservationModel struct {
	grove.BaseModel `grove:"table:creditledger_reservations"`

	ID             string     `grove:"id,pk"`
	AccountID      string     `grove:"account_id"`
	Pool           string     `grove:"pool"`
	TotalReserved  int64      `grove:"total_reserved"`
	Status         string     `grove:"status"`
	BillingMode    string     `grove:"billing_mode"`
	IdempotencyKey string     `grove:"idempotency_key"`
	ExpiresAt      time.Time  `grove:"expires_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	FinalizedAt    *time.Time `grove:"finalized_at"`
	ActualCost     *int64     `grove:"actual_cost"`
	OverrunMicro   int64      `grove:"overrun_micro"`
}

func toReservationModel(r *reservation.Reservation) *reservationModel {
	m := &reservationModel{
		ID:             r.ID.String(),
		AccountID:      r.AccountID.String(),
		Pool:           r.Pool,
		TotalReserved:  int64(r.TotalReserved),
		Status:         string(r.Status),
		BillingMode:    string(r.BillingMode),
		IdempotencyKey: r.IdempotencyKey,
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.CreatedAt,
		FinalizedAt:    r.FinalizedAt,
		OverrunMicro:   int64(r.OverrunMicro),
	}
	if r.ActualCost != nil {
		v := int64(*r.ActualCost)
		m.ActualCost = &v
	}
	return m
}

func fromReservationModel(m *reservationModel) (*reservation.Reservation, error) {
	resID, err := id.ParseReservationID(m.ID)
	if err != nil {
		return nil, err
	}
	acctID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	r := &reservation.Reservation{
		ID:             resID,
		AccountID:      acctID,
		Pool:           m.Pool,
		TotalReserved:  types.MicroUSD(m.TotalReserved),
		Status:         reservation.Status(m.Status),
		BillingMode:    reservation.BillingMode(m.BillingMode),
		IdempotencyKey: m.IdempotencyKey,
		ExpiresAt:      m.ExpiresAt,
		CreatedAt:      m.CreatedAt,
		FinalizedAt:    m.FinalizedAt,
		OverrunMicro:   types.MicroUSD(m.OverrunMicro),
	}
	if m.ActualCost != nil {
		v := types.MicroUSD(*m.ActualCost)
		r.ActualCost = &v
	}
	return r, nil
}

type reservationLotModel struct {
	grove.BaseModel `grove:"table:creditledger_reservation_lots"`

	ID            string `grove:"id,pk"`
	ReservationID string `grove:"reservation_id"`
	LotID         string `grove:"lot_id"`
	Reserved      int64  `grove:"reserved"`
}

func toReservationLotModel(rl *reservation.Lot) *reservationLotModel {
	return &reservationLotModel{
		ID:            rl.ID.String(),
		ReservationID: rl.ReservationID.String(),
		LotID:         rl.LotID.String(),
		Reserved:      int64(rl.Reserved),
	}
}

func fromReservationLotModel(m *reservationLotModel) (*reservation.Lot, error) {
	rlID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	resID, err := id.ParseReservationID(m.ReservationID)
	if err != nil {
		return nil, err
	}
	lotID, err := id.ParseLotID(m.LotID)
	if err != nil {
		return nil, err
	}
	return &reservation.Lot{
		ID:            rlID,
		ReservationID: resID,
		LotID:         lotID,
		Reserved:      types.MicroUSD(m.Reserved),
	}, nil
}

// ==================== Outbox models ====================

type outboxEventModel struct {
	grove.BaseModel `grove:"table:creditledger_outbox_events"`

	ID             string  `grove:"id,pk"`
	EventType      string  `grove:"event_type"`
	EntityType     string  `grove:"entity_type"`
	EntityID       string  `grove:"entity_id"`
	CorrelationID  string  `grove:"correlation_id"`
	IdempotencyKey string  `grove:"idempotency_key"`
	ConfigVersion  *int64  `grove:"config_version"`
	Payload        []byte  `grove:"payload,type:jsonb"`
	CreatedAt      time.Time `grove:"created_at"`
}

func toOutboxEventModel(e *outbox.Event) *outboxEventModel {
	return &outboxEventModel{
		ID:             e.ID.String(),
		EventType:      string(e.EventType),
		EntityType:     e.EntityType,
		EntityID:       e.EntityID,
		CorrelationID:  e.CorrelationID,
		IdempotencyKey: e.IdempotencyKey,
		ConfigVersion:  e.ConfigVersion,
		Payload:        []byte(e.Payload),
		CreatedAt:      e.CreatedAt,
	}
}

func fromOutboxEventModel(m *outboxEventModel) (*outbox.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	return &outbox.Event{
		ID:             evtID,
		EventType:      outbox.EventType(m.EventType),
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		CorrelationID:  m.CorrelationID,
		IdempotencyKey: m.IdempotencyKey,
		ConfigVersion:  m.ConfigVersion,
		Payload:        m.Payload,
		CreatedAt:      m.CreatedAt,
	}, nil
}

// legacyMirrorModel is the dual-write bridge's target row: one append-only
// mirror per mapped outbox event, kept for the migration-era legacy
// reader rather than ever being read back by this store itself.
type legacyMirrorModel struct {
	grove.BaseModel `grove:"table:creditledger_legacy_ledger_mirror"`

	ID         int64     `grove:"id,pk"`
	EventType  string    `grove:"event_type"`
	EntityType string    `grove:"entity_type"`
	EntityID   string    `grove:"entity_id"`
	Payload    []byte    `grove:"payload,type:jsonb"`
	RecordedAt time.Time `grove:"recorded_at"`
}

// ==================== Governance parameter models ====================

type configParameterModel struct {
	grove.BaseModel `grove:"table:creditledger_config_parameters"`

	ID                string     `grove:"id,pk"`
	ParamKey          string     `grove:"param_key"`
	EntityType        string     `grove:"entity_type"`
	ValueJSON         string     `grove:"value_json"`
	ConfigVersion     int64      `grove:"config_version"`
	Status            string     `grove:"status"`
	Approvals         int        `grove:"approvals"`
	RequiredApprovals int        `grove:"required_approvals"`
	CooldownEndsAt    *time.Time `grove:"cooldown_ends_at"`
	ActivatedAt       *time.Time `grove:"activated_at"`
	CreatedAt         time.Time  `grove:"created_at"`
}

func toConfigParameterModel(p *governance.Parameter) *configParameterModel {
	return &configParameterModel{
		ID:                p.ID.String(),
		ParamKey:          p.ParamKey,
		EntityType:        p.EntityType,
		ValueJSON:         p.ValueJSON,
		ConfigVersion:     p.ConfigVersion,
		Status:            string(p.Status),
		Approvals:         p.Approvals,
		RequiredApprovals: p.RequiredApprovals,
		CooldownEndsAt:    p.CooldownEndsAt,
		ActivatedAt:       p.ActivatedAt,
		CreatedAt:         p.CreatedAt,
	}
}

func fromConfigParameterModel(m *configParameterModel) (*governance.Parameter, error) {
	paramID, err := id.ParseConfigParamID(m.ID)
	if err != nil {
		return nil, err
	}
	return &governance.Parameter{
		ID:                paramID,
		ParamKey:          m.ParamKey,
		EntityType:        m.EntityType,
		ValueJSON:         m.ValueJSON,
		ConfigVersion:     m.ConfigVersion,
		Status:            governance.Status(m.Status),
		Approvals:         m.Approvals,
		RequiredApprovals: m.RequiredApprovals,
		CooldownEndsAt:    m.CooldownEndsAt,
		ActivatedAt:       m.ActivatedAt,
		CreatedAt:         m.CreatedAt,
	}, nil
}

// ==================== Budget models ====================

type budgetModel struct {
	grove.BaseModel `grove:"table:creditledger_agent_budgets"`

	ID                   string `grove:"id,pk"`
	AccountID            string `grove:"account_id"`
	DailyCap             int64  `grove:"daily_cap"`
	CurrentSpend         int64  `grove:"current_spend"`
	WindowStart          time.Time `grove:"window_start"`
	WindowDurationSeconds int64  `grove:"window_duration_seconds"`
	CircuitState         string `grove:"circuit_state"`
}

func toBudgetModel(b *budget.Budget) *budgetModel {
	return &budgetModel{
		ID:                    b.ID.String(),
		AccountID:             b.AccountID.String(),
		DailyCap:              int64(b.DailyCap),
		CurrentSpend:          int64(b.CurrentSpend),
		WindowStart:           b.WindowStart,
		WindowDurationSeconds: int64(b.WindowDuration.Seconds()),
		CircuitState:          string(b.CircuitState),
	}
}

func fromBudgetModel(m *budgetModel) (*budget.Budget, error) {
	budgetID, err := id.ParseAgentBudgetID(m.ID)
	if err != nil {
		return nil, err
	}
	acctID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &budget.Budget{
		ID:             budgetID,
		AccountID:      acctID,
		DailyCap:       types.MicroUSD(m.DailyCap),
		CurrentSpend:   types.MicroUSD(m.CurrentSpend),
		WindowStart:    m.WindowStart,
		WindowDuration: time.Duration(m.WindowDurationSeconds) * time.Second,
		CircuitState:   budget.CircuitState(m.CircuitState),
	}, nil
}

type finalizationModel struct {
	grove.BaseModel `grove:"table:creditledger_budget_finalizations"`

	AccountID     string    `grove:"account_id,pk"`
	ReservationID string    `grove:"reservation_id,pk"`
	Amount        int64     `grove:"amount"`
	RecordedAt    time.Time `grove:"recorded_at"`
}

func toFinalizationModel(f *budget.Finalization) *finalizationModel {
	return &finalizationModel{
		AccountID:     f.AccountID.String(),
		ReservationID: f.ReservationID.String(),
		Amount:        int64(f.Amount),
		RecordedAt:    f.RecordedAt,
	}
}

func fromFinalizationModel(m *finalizationModel) (*budget.Finalization, error) {
	acctID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	resID, err := id.ParseReservationID(m.ReservationID)
	if err != nil {
		return nil, err
	}
	return &budget.Finalization{
		AccountID:     acctID,
		ReservationID: resID,
		Amount:        types.MicroUSD(m.Amount),
		RecordedAt:    m.RecordedAt,
	}, nil
}

// ==================== Bridge deposit models ====================

type depositModel struct {
	grove.BaseModel `grove:"table:creditledger_tba_deposits"`

	ID         string  `grove:"id,pk"`
	AccountID  string  `grove:"account_id"`
	TxHash     string  `grove:"tx_hash"`
	Amount     int64   `grove:"amount"`
	Status     string  `grove:"status"`
	LotID      *string `grove:"lot_id"`
	DetectedAt time.Time `grove:"detected_at"`
}

func toDepositModel(d *bridge.Deposit) *depositModel {
	m := &depositModel{
		ID:         d.ID.String(),
		AccountID:  d.AccountID.String(),
		TxHash:     d.TxHash,
		Amount:     int64(d.Amount),
		Status:     string(d.Status),
		DetectedAt: d.DetectedAt,
	}
	if d.LotID != nil {
		s := d.LotID.String()
		m.LotID = &s
	}
	return m
}

func fromDepositModel(m *depositModel) (*bridge.Deposit, error) {
	depositID, err := id.ParseTBADepositID(m.ID)
	if err != nil {
		return nil, err
	}
	acctID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	d := &bridge.Deposit{
		ID:         depositID,
		AccountID:  acctID,
		TxHash:     m.TxHash,
		Amount:     types.MicroUSD(m.Amount),
		Status:     bridge.DepositStatus(m.Status),
		DetectedAt: m.DetectedAt,
	}
	if m.LotID != nil {
		lotID, err := id.ParseLotID(*m.LotID)
		if err != nil {
			return nil, err
		}
		d.LotID = &lotID
	}
	return d, nil
}

// ==================== Idempotency key models ====================

type idempotencyKeyModel struct {
	grove.BaseModel `grove:"table:creditledger_idempotency_keys"`

	Scope     string     `grove:"scope,pk"`
	Key       string     `grove:"key,pk"`
	ExpiresAt *time.Time `grove:"expires_at"`
}
