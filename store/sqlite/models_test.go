package sqlite

import (
	"testing"
	"time"

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

func TestAccountModelRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	a := &account.Account{
		Entity:     types.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         id.NewAccountID(),
		EntityType: account.TypeAgent,
		EntityID:   "agent-1",
		Version:    3,
	}
	got, err := fromAccountModel(toAccountModel(a))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.ID != a.ID || got.EntityType != a.EntityType || got.EntityID != a.EntityID || got.Version != a.Version {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, a)
	}
}

func TestLotModelRoundTrip(t *testing.T) {
	exp := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	l := &lot.Lot{
		ID:         id.NewLotID(),
		AccountID:  id.NewAccountID(),
		Pool:       "general",
		SourceType: lot.SourceGrant,
		SourceID:   "grant-1",
		Original:   1000,
		Available:  600,
		Reserved:   200,
		Consumed:   200,
		ExpiresAt:  &exp,
	}
	got, err := fromLotModel(toLotModel(l))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.ID != l.ID || got.AccountID != l.AccountID || got.Pool != l.Pool {
		t.Errorf("identity fields mismatch: got %+v, want %+v", got, l)
	}
	if got.SourceType != l.SourceType || got.Original != l.Original || got.Available != l.Available {
		t.Errorf("amount fields mismatch: got %+v, want %+v", got, l)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(*l.ExpiresAt) {
		t.Errorf("ExpiresAt mismatch: got %v, want %v", got.ExpiresAt, l.ExpiresAt)
	}
}

func TestLotModelRoundTripNilExpiry(t *testing.T) {
	l := &lot.Lot{ID: id.NewLotID(), AccountID: id.NewAccountID(), SourceType: lot.SourceDeposit}
	got, err := fromLotModel(toLotModel(l))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.ExpiresAt != nil {
		t.Errorf("expected nil ExpiresAt to survive the round trip, got %v", got.ExpiresAt)
	}
}

func TestEntryModelRoundTrip(t *testing.T) {
	lotID := id.NewLotID()
	resID := id.NewReservationID()
	pre := types.MicroUSD(1000)
	post := types.MicroUSD(800)
	e := &ledgerentry.Entry{
		ID:             id.NewEntryID(),
		AccountID:      id.NewAccountID(),
		Pool:           "general",
		LotID:          &lotID,
		ReservationID:  &resID,
		EntrySeq:       7,
		Amount:         200,
		IdempotencyKey: "idem-1",
		PreBalance:     &pre,
		PostBalance:    &post,
	}
	got, err := fromEntryModel(toEntryModel(e))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.ID != e.ID || got.AccountID != e.AccountID || got.EntrySeq != e.EntrySeq {
		t.Errorf("identity mismatch: got %+v, want %+v", got, e)
	}
	if got.LotID == nil || *got.LotID != *e.LotID {
		t.Errorf("LotID mismatch: got %v, want %v", got.LotID, e.LotID)
	}
	if got.ReservationID == nil || *got.ReservationID != *e.ReservationID {
		t.Errorf("ReservationID mismatch: got %v, want %v", got.ReservationID, e.ReservationID)
	}
	if got.PreBalance == nil || *got.PreBalance != pre {
		t.Errorf("PreBalance mismatch: got %v, want %v", got.PreBalance, pre)
	}
	if got.PostBalance == nil || *got.PostBalance != post {
		t.Errorf("PostBalance mismatch: got %v, want %v", got.PostBalance, post)
	}
}

func TestEntryModelRoundTripNilOptionalFields(t *testing.T) {
	e := &ledgerentry.Entry{ID: id.NewEntryID(), AccountID: id.NewAccountID()}
	got, err := fromEntryModel(toEntryModel(e))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.LotID != nil || got.ReservationID != nil || got.PreBalance != nil || got.PostBalance != nil {
		t.Errorf("expected all optional fields to remain nil, got %+v", got)
	}
}

func TestReservationModelRoundTrip(t *testing.T) {
	actual := types.MicroUSD(450)
	r := &reservation.Reservation{
		ID:             id.NewReservationID(),
		AccountID:      id.NewAccountID(),
		Pool:           "general",
		TotalReserved:  500,
		Status:         reservation.StatusFinalized,
		BillingMode:    reservation.ModeLive,
		IdempotencyKey: "idem-2",
		ExpiresAt:      time.Now().UTC().Add(time.Hour).Truncate(time.Second),
		ActualCost:     &actual,
		OverrunMicro:   0,
	}
	got, err := fromReservationModel(toReservationModel(r))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.ID != r.ID || got.Status != r.Status || got.BillingMode != r.BillingMode {
		t.Errorf("mismatch: got %+v, want %+v", got, r)
	}
	if got.ActualCost == nil || *got.ActualCost != actual {
		t.Errorf("ActualCost mismatch: got %v, want %v", got.ActualCost, actual)
	}
}

func TestReservationLotModelRoundTrip(t *testing.T) {
	rl := &reservation.Lot{
		ID:            id.NewReservationLotID(),
		ReservationID: id.NewReservationID(),
		LotID:         id.NewLotID(),
		Reserved:      300,
	}
	got, err := fromReservationLotModel(toReservationLotModel(rl))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.ID != rl.ID || got.ReservationID != rl.ReservationID || got.LotID != rl.LotID || got.Reserved != rl.Reserved {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, rl)
	}
}

func TestOutboxEventModelRoundTrip(t *testing.T) {
	version := int64(4)
	e := outbox.New(outbox.EventLotMinted, "lot", "lot_1", map[string]int{"amount": 100}).
		WithCorrelation("corr-1").WithIdempotencyKey("idem-3")
	e.ConfigVersion = &version

	got, err := fromOutboxEventModel(toOutboxEventModel(e))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.ID != e.ID || got.EventType != e.EventType || got.EntityID != e.EntityID {
		t.Errorf("identity mismatch: got %+v, want %+v", got, e)
	}
	if got.CorrelationID != e.CorrelationID || got.IdempotencyKey != e.IdempotencyKey {
		t.Errorf("correlation/idempotency mismatch: got %+v, want %+v", got, e)
	}
	if got.ConfigVersion == nil || *got.ConfigVersion != version {
		t.Errorf("ConfigVersion mismatch: got %v, want %d", got.ConfigVersion, version)
	}
	if string(got.Payload) != string(e.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", got.Payload, e.Payload)
	}
}

func TestConfigParameterModelRoundTrip(t *testing.T) {
	cooldown := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	p := &governance.Parameter{
		ID:                id.NewConfigParamID(),
		ParamKey:          "reservation.default_ttl_seconds",
		EntityType:        "__global__",
		ValueJSON:         "600",
		ConfigVersion:     2,
		Status:            governance.StatusCoolingDown,
		Approvals:         2,
		RequiredApprovals: 2,
		CooldownEndsAt:    &cooldown,
	}
	got, err := fromConfigParameterModel(toConfigParameterModel(p))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.ID != p.ID || got.ParamKey != p.ParamKey || got.Status != p.Status {
		t.Errorf("mismatch: got %+v, want %+v", got, p)
	}
	if got.CooldownEndsAt == nil || !got.CooldownEndsAt.Equal(*p.CooldownEndsAt) {
		t.Errorf("CooldownEndsAt mismatch: got %v, want %v", got.CooldownEndsAt, p.CooldownEndsAt)
	}
}

func TestBudgetModelRoundTrip(t *testing.T) {
	b := &budget.Budget{
		ID:             id.NewAgentBudgetID(),
		AccountID:      id.NewAccountID(),
		DailyCap:       1000,
		CurrentSpend:   250,
		WindowStart:    time.Now().UTC().Truncate(time.Second),
		WindowDuration: 24 * time.Hour,
		CircuitState:   budget.CircuitClosed,
	}
	got, err := fromBudgetModel(toBudgetModel(b))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.ID != b.ID || got.DailyCap != b.DailyCap || got.CurrentSpend != b.CurrentSpend {
		t.Errorf("mismatch: got %+v, want %+v", got, b)
	}
	if got.WindowDuration != b.WindowDuration {
		t.Errorf("WindowDuration mismatch: got %v, want %v", got.WindowDuration, b.WindowDuration)
	}
	if got.CircuitState != b.CircuitState {
		t.Errorf("CircuitState mismatch: got %v, want %v", got.CircuitState, b.CircuitState)
	}
}

func TestFinalizationModelRoundTrip(t *testing.T) {
	f := &budget.Finalization{
		AccountID:     id.NewAccountID(),
		ReservationID: id.NewReservationID(),
		Amount:        500,
		RecordedAt:    time.Now().UTC().Truncate(time.Second),
	}
	got, err := fromFinalizationModel(toFinalizationModel(f))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.AccountID != f.AccountID || got.ReservationID != f.ReservationID || got.Amount != f.Amount {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestDepositModelRoundTrip(t *testing.T) {
	lotID := id.NewLotID()
	d := &bridge.Deposit{
		ID:         id.NewTBADepositID(),
		AccountID:  id.NewAccountID(),
		TxHash:     "0xabc",
		Amount:     5000,
		Status:     bridge.DepositBridged,
		LotID:      &lotID,
		DetectedAt: time.Now().UTC().Truncate(time.Second),
	}
	got, err := fromDepositModel(toDepositModel(d))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.ID != d.ID || got.TxHash != d.TxHash || got.Status != d.Status {
		t.Errorf("mismatch: got %+v, want %+v", got, d)
	}
	if got.LotID == nil || *got.LotID != *d.LotID {
		t.Errorf("LotID mismatch: got %v, want %v", got.LotID, d.LotID)
	}
}

func TestDepositModelRoundTripNilLotID(t *testing.T) {
	d := &bridge.Deposit{ID: id.NewTBADepositID(), AccountID: id.NewAccountID(), TxHash: "0xdef", Status: bridge.DepositDetected}
	got, err := fromDepositModel(toDepositModel(d))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got.LotID != nil {
		t.Errorf("expected nil LotID to survive the round trip, got %v", got.LotID)
	}
}
