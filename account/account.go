// Package account defines the credit-ledger account entity: the
// (entity_type, entity_id) pair every lot, reservation and ledger entry
// is ultimately scoped to.
package account

import (
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// Type enumerates the closed set of account holders.
type Type string

const (
	TypeAgent      Type = "agent"
	TypePerson     Type = "person"
	TypeCommunity  Type = "community"
	TypeMod        Type = "mod"
	TypeProtocol   Type = "protocol"
	TypeFoundation Type = "foundation"
	TypeCommons    Type = "commons"
)

// Protocol account entity IDs are fixed singletons: revenue distribution
// always posts to these three accounts regardless of who triggered the
// charge.
const (
	ProtocolCommonsEntityID    = "commons"
	ProtocolCommunityEntityID  = "community"
	ProtocolFoundationEntityID = "foundation"
)

// Account is mutated only by creation and version bumps; it is never
// deleted and never rewinds a version.
type Account struct {
	types.Entity
	ID         id.AccountID `json:"id"`
	EntityType Type         `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Version    int64        `json:"version"`
}

// New constructs a fresh Account row. Callers persist it via the store's
// CreateAccount, which is idempotent on (entity_type, entity_id).
func New(entityType Type, entityID string) *Account {
	return &Account{
		Entity:     types.NewEntity(),
		ID:         id.NewAccountID(),
		EntityType: entityType,
		EntityID:   entityID,
		Version:    1,
	}
}

// Key is the natural (entity_type, entity_id) uniqueness pair.
type Key struct {
	EntityType Type
	EntityID   string
}

func (a *Account) Key() Key {
	return Key{EntityType: a.EntityType, EntityID: a.EntityID}
}
