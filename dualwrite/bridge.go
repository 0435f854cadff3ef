// Package dualwrite implements the migration-era dual-write bridge: a
// subset of outbox events are mirrored to a legacy audit table in the
// same transaction as the state change that produced them. It is
// grounded on the audit_hook package's Recorder/RecorderFunc shape, made
// transactional rather than async-dispatched, since the spec requires
// the mirror write to commit or roll back atomically with the outbox
// write it shadows.
package dualwrite

import (
	"context"

	"github.com/xraph/creditledger/outbox"
)

// mappedEvents is the closed subset of outbox.EventType values the
// bridge mirrors during migration. Every other outbox event type stays in
// the outbox only; event types with no outbox counterpart go to the
// legacy table via WriteLegacyOnly.
var mappedEvents = map[outbox.EventType]bool{
	outbox.EventLotMinted:              true,
	outbox.EventReservationCreated:     true,
	outbox.EventReservationFinalized:   true,
	outbox.EventReservationReleased:    true,
	outbox.EventReferralRegistered:     true,
	outbox.EventBonusGranted:           true,
	outbox.EventEarningRecorded:        true,
	outbox.EventPayoutCompleted:        true,
	outbox.EventAgentBudgetExhausted:   true,
	outbox.EventConfigActivated:        true,
	outbox.EventTbaDepositBridged:      true,
	outbox.EventPeerTransferCompleted:  true,
}

// IsMapped reports whether eventType is mirrored to the legacy table.
func IsMapped(eventType outbox.EventType) bool {
	return mappedEvents[eventType]
}

// LegacyEntry is one row in the legacy audit table the bridge mirrors
// into, during migration, alongside (or instead of) the canonical
// outbox.
type LegacyEntry struct {
	EventType  string
	EntityType string
	EntityID   string
	Payload    []byte
}

// Recorder is the legacy audit table's write surface. A concrete store
// adapter implements it against the legacy schema.
type Recorder interface {
	RecordLegacy(ctx context.Context, entry LegacyEntry) error
}

// RecorderFunc adapts a plain function to a Recorder.
type RecorderFunc func(ctx context.Context, entry LegacyEntry) error

func (f RecorderFunc) RecordLegacy(ctx context.Context, entry LegacyEntry) error {
	return f(ctx, entry)
}

// Bridge mirrors mapped outbox events into the legacy table, in the
// same transaction as the event itself. Unmapped event types listed in
// the spec (AccountCreated, LotExpired, BonusWithheld, PayoutProcessing,
// WalletLinked, WalletUnlinked) never reach the canonical outbox at all;
// callers write those straight to the Bridge via WriteLegacyOnly.
type Bridge struct {
	recorder Recorder
}

// New constructs a Bridge over recorder.
func New(recorder Recorder) *Bridge {
	return &Bridge{recorder: recorder}
}

// Mirror writes event to the legacy table if its type is mapped. It is a
// no-op for unmapped types, so callers can invoke it unconditionally
// right after an outbox insert.
func (b *Bridge) Mirror(ctx context.Context, event *outbox.Event) error {
	if !IsMapped(event.EventType) {
		return nil
	}
	return b.recorder.RecordLegacy(ctx, LegacyEntry{
		EventType:  string(event.EventType),
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Payload:    event.Payload,
	})
}

// WriteLegacyOnly writes directly to the legacy table for an event type
// that has no outbox mapping at all.
func (b *Bridge) WriteLegacyOnly(ctx context.Context, eventType, entityType, entityID string, payload []byte) error {
	return b.recorder.RecordLegacy(ctx, LegacyEntry{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	})
}
