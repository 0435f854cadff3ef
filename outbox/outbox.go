// Package outbox implements the append-only economic event table: every
// state-changing operation writes its event in the same transaction as
// the change itself, so a rollback can never leave an orphaned event.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/xraph/creditledger/id"
)

// EventType is the closed vocabulary of economic events. Nothing outside
// this set may be written to the outbox.
type EventType string

const (
	EventLotMinted                      EventType = "LotMinted"
	EventReservationCreated             EventType = "ReservationCreated"
	EventReservationFinalized           EventType = "ReservationFinalized"
	EventReservationReleased            EventType = "ReservationReleased"
	EventReferralRegistered             EventType = "ReferralRegistered"
	EventBonusGranted                   EventType = "BonusGranted"
	EventBonusFlagged                   EventType = "BonusFlagged"
	EventEarningRecorded                EventType = "EarningRecorded"
	EventEarningSettled                 EventType = "EarningSettled"
	EventEarningClawedBack              EventType = "EarningClawedBack"
	EventPayoutRequested                EventType = "PayoutRequested"
	EventPayoutApproved                 EventType = "PayoutApproved"
	EventPayoutCompleted                EventType = "PayoutCompleted"
	EventPayoutFailed                   EventType = "PayoutFailed"
	EventRewardsDistributed             EventType = "RewardsDistributed"
	EventScoreImported                  EventType = "ScoreImported"
	EventAgentBudgetWarning             EventType = "AgentBudgetWarning"
	EventAgentBudgetExhausted           EventType = "AgentBudgetExhausted"
	EventAgentSettlementInstant         EventType = "AgentSettlementInstant"
	EventAgentClawbackPartial           EventType = "AgentClawbackPartial"
	EventAgentClawbackReceivableCreated EventType = "AgentClawbackReceivableCreated"
	EventConfigProposed                 EventType = "ConfigProposed"
	EventConfigApproved                 EventType = "ConfigApproved"
	EventConfigActivated                EventType = "ConfigActivated"
	EventReconciliationCompleted        EventType = "ReconciliationCompleted"
	EventReconciliationDivergence       EventType = "ReconciliationDivergence"
	EventPeerTransferInitiated          EventType = "PeerTransferInitiated"
	EventPeerTransferCompleted          EventType = "PeerTransferCompleted"
	EventPeerTransferRejected           EventType = "PeerTransferRejected"
	EventTbaBound                       EventType = "TbaBound"
	EventTbaDepositDetected             EventType = "TbaDepositDetected"
	EventTbaDepositBridged              EventType = "TbaDepositBridged"
	EventTbaDepositFailed               EventType = "TbaDepositFailed"
	EventAgentProposalSubmitted         EventType = "AgentProposalSubmitted"
	EventAgentProposalQuorumReached     EventType = "AgentProposalQuorumReached"
	EventAgentProposalActivated         EventType = "AgentProposalActivated"
	EventAgentProposalRejected          EventType = "AgentProposalRejected"
)

// Event is one immutable outbox row.
type Event struct {
	ID              id.EventID `json:"id"`
	EventType       EventType  `json:"event_type"`
	EntityType      string     `json:"entity_type"`
	EntityID        string     `json:"entity_id"`
	CorrelationID   string     `json:"correlation_id,omitempty"`
	IdempotencyKey  string     `json:"idempotency_key,omitempty"`
	ConfigVersion   *int64     `json:"config_version,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       time.Time  `json:"created_at"`
}

// New constructs an event, marshaling payload to JSON. Panics on a
// marshal error, which can only happen for a programmer-supplied payload
// type that isn't JSON-serializable.
func New(eventType EventType, entityType, entityID string, payload any) *Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic("outbox: payload not JSON-serializable: " + err.Error())
	}
	return &Event{
		ID:         id.NewEventID(),
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    raw,
		CreatedAt:  time.Now().UTC(),
	}
}

// WithCorrelation sets the correlation ID, used to tie together the
// legs of a peer transfer or a TBA bridge operation.
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// WithIdempotencyKey sets the idempotency key consumers dedupe on.
func (e *Event) WithIdempotencyKey(key string) *Event {
	e.IdempotencyKey = key
	return e
}

// WithConfigVersion stamps the governance version active when the event
// was produced, letting consumers correlate behavior changes.
func (e *Event) WithConfigVersion(version int64) *Event {
	e.ConfigVersion = &version
	return e
}
