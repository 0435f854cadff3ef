package revenue

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/creditledger/account"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/ledgerentry"
	"github.com/xraph/creditledger/outbox"
	"github.com/xraph/creditledger/types"
)

func TestSplitZeroSum(t *testing.T) {
	rule := Rule{CommonsBPS: 500, CommunityBPS: 300, FoundationBPS: 9200}
	shares, err := Split(1_000_000, rule)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	total := shares.Commons + shares.Community + shares.Foundation
	if total != 1_000_000 {
		t.Fatalf("shares sum to %d, want 1000000", total)
	}
}

func TestSplitFoundationAbsorbsRemainder(t *testing.T) {
	rule := Rule{CommonsBPS: 3333, CommunityBPS: 3333, FoundationBPS: 3334}
	shares, err := Split(100, rule)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if shares.Commons+shares.Community+shares.Foundation != 100 {
		t.Fatalf("truncation remainder not absorbed: %+v", shares)
	}
}

func TestSplitRejectsNonSummingRule(t *testing.T) {
	rule := Rule{CommonsBPS: 500, CommunityBPS: 300, FoundationBPS: 9000}
	if _, err := Split(1000, rule); err == nil {
		t.Fatal("expected error for basis points not summing to 10000")
	}
}

func TestSplitRejectsOutOfRangeBPS(t *testing.T) {
	rule := Rule{CommonsBPS: -100, CommunityBPS: 5100, FoundationBPS: 5000}
	if _, err := Split(1000, rule); err == nil {
		t.Fatal("expected error for negative basis points")
	}
}

func TestCachedRuleProviderCachesUntilInvalidated(t *testing.T) {
	calls := 0
	rule := Rule{CommonsBPS: 500, CommunityBPS: 300, FoundationBPS: 9200}
	p := NewCachedRuleProvider(func(ctx context.Context) (Rule, error) {
		calls++
		return rule, nil
	})

	if _, err := p.ActiveRule(context.Background()); err != nil {
		t.Fatalf("ActiveRule: %v", err)
	}
	if _, err := p.ActiveRule(context.Background()); err != nil {
		t.Fatalf("ActiveRule: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected lookup to run once before invalidation, ran %d times", calls)
	}

	p.Invalidate()
	if _, err := p.ActiveRule(context.Background()); err != nil {
		t.Fatalf("ActiveRule: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected lookup to re-run after invalidation, ran %d times", calls)
	}
}

type memStore struct {
	protocolAccounts map[string]id.AccountID
	seqs             map[string]int64
	entries          []*ledgerentry.Entry
	refreshed        []id.AccountID
}

func newMemStore() *memStore {
	return &memStore{
		protocolAccounts: map[string]id.AccountID{
			account.ProtocolCommonsEntityID:    id.NewAccountID(),
			account.ProtocolCommunityEntityID:  id.NewAccountID(),
			account.ProtocolFoundationEntityID: id.NewAccountID(),
		},
		seqs: map[string]int64{},
	}
}

func (m *memStore) ProtocolAccountID(_ context.Context, entityID string) (id.AccountID, error) {
	acctID, ok := m.protocolAccounts[entityID]
	if !ok {
		return id.Nil, errors.New("unknown protocol entity")
	}
	return acctID, nil
}

func (m *memStore) AllocateSequence(_ context.Context, accountID id.AccountID, pool string) (int64, error) {
	key := accountID.String() + ":" + pool
	m.seqs[key]++
	return m.seqs[key], nil
}

func (m *memStore) InsertEntry(_ context.Context, e *ledgerentry.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) RefreshBalance(_ context.Context, accountID id.AccountID, _ string) error {
	m.refreshed = append(m.refreshed, accountID)
	return nil
}

func (m *memStore) InsertOutboxEvent(_ context.Context, _ *outbox.Event) error {
	return nil
}

func TestDistributePostsThreeEntriesSummingToCharge(t *testing.T) {
	rule := Rule{CommonsBPS: 500, CommunityBPS: 300, FoundationBPS: 9200}
	provider := NewCachedRuleProvider(func(ctx context.Context) (Rule, error) { return rule, nil })
	svc := New(provider)
	store := newMemStore()

	if err := svc.Distribute(context.Background(), store, "resv_123", "general", 1_000_000); err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	if len(store.entries) != 3 {
		t.Fatalf("expected 3 posted entries, got %d", len(store.entries))
	}

	var total types.MicroUSD
	for _, e := range store.entries {
		total += e.Amount
	}
	if total != 1_000_000 {
		t.Fatalf("posted entries sum to %d, want 1000000", total)
	}
}

func TestDistributeNoopOnZeroCharge(t *testing.T) {
	rule := Rule{CommonsBPS: 500, CommunityBPS: 300, FoundationBPS: 9200}
	provider := NewCachedRuleProvider(func(ctx context.Context) (Rule, error) { return rule, nil })
	svc := New(provider)
	store := newMemStore()

	if err := svc.Distribute(context.Background(), store, "resv_123", "general", 0); err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	if len(store.entries) != 0 {
		t.Fatalf("expected no entries posted for zero charge, got %d", len(store.entries))
	}
}

func TestDistributeIdempotencyKeyPerEntity(t *testing.T) {
	rule := Rule{CommonsBPS: 500, CommunityBPS: 300, FoundationBPS: 9200}
	provider := NewCachedRuleProvider(func(ctx context.Context) (Rule, error) { return rule, nil })
	svc := New(provider)
	store := newMemStore()

	if err := svc.Distribute(context.Background(), store, "resv_abc", "general", 500); err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range store.entries {
		if seen[e.IdempotencyKey] {
			t.Fatalf("duplicate idempotency key %q across postings", e.IdempotencyKey)
		}
		seen[e.IdempotencyKey] = true
	}
}
