// Package revenue implements the atomic split of a realized charge
// across the three protocol accounts, with the zero-sum invariant held
// by construction.
package revenue

import (
	"context"
	"fmt"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/ledgerentry"
	"github.com/xraph/creditledger/ledgererr"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/types"
)

// Rule is the active (commons_bps, community_bps, foundation_bps) triple.
// The three rates must sum to exactly 10000.
type Rule struct {
	CommonsBPS    types.BPS `json:"commons_bps"`
	CommunityBPS  types.BPS `json:"community_bps"`
	FoundationBPS types.BPS `json:"foundation_bps"`
}

// Shares is the computed split of a charge. Foundation absorbs the
// integer-truncation remainder so Commons+Community+Foundation always
// equals the input charge exactly.
type Shares struct {
	Commons    types.MicroUSD
	Community  types.MicroUSD
	Foundation types.MicroUSD
}

// Split computes the zero-sum distribution of charge under rule.
func Split(charge types.MicroUSD, rule Rule) (Shares, error) {
	if err := types.AssertSumTo10000(rule.CommonsBPS, rule.CommunityBPS, rule.FoundationBPS); err != nil {
		return Shares{}, fmt.Errorf("revenue: %w: %w", ledgererr.ErrRevenueSharesInvalid, err)
	}
	commons := charge.BPSShare(rule.CommonsBPS)
	community := charge.BPSShare(rule.CommunityBPS)
	foundation := charge - commons - community
	return Shares{Commons: commons, Community: community, Foundation: foundation}, nil
}

// RuleProvider resolves the active revenue rule. CachedRuleProvider wraps
// a backing lookup with an explicit invalidate hook rather than a TTL,
// per the design note that the cache must be invalidated by the
// governance activator, not merely time out.
type RuleProvider interface {
	ActiveRule(ctx context.Context) (Rule, error)
}

// LookupFunc resolves the active rule from the config store on a cache
// miss.
type LookupFunc func(ctx context.Context) (Rule, error)

// CachedRuleProvider caches the active rule in memory and serves it
// read-through until Invalidate is called.
type CachedRuleProvider struct {
	lookup LookupFunc
	cached *Rule
}

// NewCachedRuleProvider constructs a provider backed by lookup.
func NewCachedRuleProvider(lookup LookupFunc) *CachedRuleProvider {
	return &CachedRuleProvider{lookup: lookup}
}

func (p *CachedRuleProvider) ActiveRule(ctx context.Context) (Rule, error) {
	if p.cached != nil {
		return *p.cached, nil
	}
	rule, err := p.lookup(ctx)
	if err != nil {
		return Rule{}, err
	}
	p.cached = &rule
	return rule, nil
}

// Invalidate drops the cached rule so the next ActiveRule call re-reads
// the config store. Called by the governance activator whenever a
// revenue-rule parameter is activated.
func (p *CachedRuleProvider) Invalidate() {
	p.cached = nil
}

// TxStore is the store slice the distribution service needs to post
// entries within the caller's open transaction.
type TxStore interface {
	ProtocolAccountID(ctx context.Context, entityID string) (id.AccountID, error)
	AllocateSequence(ctx context.Context, accountID id.AccountID, pool string) (int64, error)
	InsertEntry(ctx context.Context, e *ledgerentry.Entry) error
	RefreshBalance(ctx context.Context, accountID id.AccountID, pool string) error
	InsertOutboxEvent(ctx context.Context, e *outbox.Event) error
}

// Service posts the revenue split for a realized charge.
type Service struct {
	provider RuleProvider
}

// New constructs a distribution Service backed by provider.
func New(provider RuleProvider) *Service {
	return &Service{provider: provider}
}

// Distribute splits charge and posts one commons_contribution plus two
// revenue_share ledger entries to the protocol accounts, all under pool.
// Must run inside the same transaction as the finalize that produced
// charge; correlationID ties the three entries back to the reservation.
func (s *Service) Distribute(ctx context.Context, tx TxStore, correlationID string, pool string, charge types.MicroUSD) error {
	if charge <= 0 {
		return nil
	}

	rule, err := s.provider.ActiveRule(ctx)
	if err != nil {
		return err
	}
	shares, err := Split(charge, rule)
	if err != nil {
		return err
	}

	postings := []struct {
		entityID string
		entry    ledgerentry.Type
		amount   types.MicroUSD
	}{
		{account.ProtocolCommonsEntityID, ledgerentry.TypeCommonsContribution, shares.Commons},
		{account.ProtocolCommunityEntityID, ledgerentry.TypeRevenueShare, shares.Community},
		{account.ProtocolFoundationEntityID, ledgerentry.TypeRevenueShare, shares.Foundation},
	}

	for _, p := range postings {
		acctID, err := tx.ProtocolAccountID(ctx, p.entityID)
		if err != nil {
			return err
		}
		seq, err := tx.AllocateSequence(ctx, acctID, pool)
		if err != nil {
			return err
		}
		entry := ledgerentry.New(acctID, pool, p.entry, p.amount)
		entry.EntrySeq = seq
		entry.IdempotencyKey = correlationID + ":" + p.entityID
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.RefreshBalance(ctx, acctID, pool); err != nil {
			return err
		}
	}

	return nil
}
