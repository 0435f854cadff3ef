package dualwrite

import (
	"context"
	"testing"

	"github.com/xraph/creditledger/outbox"
)

func TestIsMapped(t *testing.T) {
	tests := []struct {
		eventType outbox.EventType
		want      bool
	}{
		{outbox.EventLotMinted, true},
		{outbox.EventReservationCreated, true},
		{outbox.EventReservationFinalized, true},
		{outbox.EventPeerTransferCompleted, true},
		{outbox.EventAgentBudgetExhausted, true},
		{outbox.EventConfigActivated, true},
		{outbox.EventTbaDepositBridged, true},
		{outbox.EventBonusFlagged, false},
		{outbox.EventPayoutFailed, false},
		{outbox.EventReconciliationCompleted, false},
	}
	for _, tt := range tests {
		if got := IsMapped(tt.eventType); got != tt.want {
			t.Errorf("IsMapped(%s) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

type recordingRecorder struct {
	entries []LegacyEntry
	err     error
}

func (r *recordingRecorder) RecordLegacy(ctx context.Context, entry LegacyEntry) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}

func TestMirrorWritesMappedEventType(t *testing.T) {
	rec := &recordingRecorder{}
	b := New(rec)

	event := outbox.New(outbox.EventLotMinted, "lot", "lot_1", map[string]int{"amount": 100})

	if err := b.Mirror(context.Background(), event); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 mirrored entry, got %d", len(rec.entries))
	}
	got := rec.entries[0]
	if got.EventType != string(outbox.EventLotMinted) {
		t.Errorf("EventType = %q, want %q", got.EventType, outbox.EventLotMinted)
	}
	if got.EntityType != "lot" || got.EntityID != "lot_1" {
		t.Errorf("EntityType/EntityID = %q/%q, want lot/lot_1", got.EntityType, got.EntityID)
	}
}

func TestMirrorSkipsUnmappedEventType(t *testing.T) {
	rec := &recordingRecorder{}
	b := New(rec)

	event := outbox.New(outbox.EventBonusFlagged, "bonus", "bonus_1", map[string]int{})

	if err := b.Mirror(context.Background(), event); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if len(rec.entries) != 0 {
		t.Fatalf("expected no mirrored entries for an unmapped event type, got %d", len(rec.entries))
	}
}

func TestWriteLegacyOnly(t *testing.T) {
	rec := &recordingRecorder{}
	b := New(rec)

	if err := b.WriteLegacyOnly(context.Background(), "WalletLinked", "wallet", "wallet_1", []byte(`{}`)); err != nil {
		t.Fatalf("WriteLegacyOnly: %v", err)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 legacy-only entry, got %d", len(rec.entries))
	}
	if rec.entries[0].EventType != "WalletLinked" {
		t.Errorf("EventType = %q, want WalletLinked", rec.entries[0].EventType)
	}
}

func TestMirrorPropagatesRecorderError(t *testing.T) {
	rec := &recordingRecorder{err: context.DeadlineExceeded}
	b := New(rec)

	event := outbox.New(outbox.EventLotMinted, "lot", "lot_1", map[string]int{})
	if err := b.Mirror(context.Background(), event); err == nil {
		t.Fatal("expected Mirror to propagate the recorder's error")
	}
}
