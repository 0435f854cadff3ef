package lot

import (
	"testing"
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

func TestNewLotFullyAvailable(t *testing.T) {
	l := New(id.NewAccountID(), "gpu", SourcePurchase, "src-1", 1000, nil)
	if l.Available != 1000 || l.Reserved != 0 || l.Consumed != 0 {
		t.Fatalf("new lot should start fully available, got %+v", l)
	}
	if !l.CheckInvariant() {
		t.Fatal("fresh lot should satisfy the invariant")
	}
}

func TestEffectivePool(t *testing.T) {
	tests := []struct {
		pool string
		want string
	}{
		{"", GeneralPool},
		{GeneralPool, GeneralPool},
		{"gpu", "gpu"},
	}
	for _, tt := range tests {
		l := &Lot{Pool: tt.pool}
		if got := l.EffectivePool(); got != tt.want {
			t.Errorf("EffectivePool(%q) = %q, want %q", tt.pool, got, tt.want)
		}
	}
}

func TestCheckInvariant(t *testing.T) {
	tests := []struct {
		name string
		l    Lot
		want bool
	}{
		{"balanced", Lot{Original: 100, Available: 60, Reserved: 30, Consumed: 10}, true},
		{"unbalanced", Lot{Original: 100, Available: 60, Reserved: 30, Consumed: 20}, false},
		{"negative available", Lot{Original: 100, Available: -10, Reserved: 60, Consumed: 50}, false},
		{"negative reserved", Lot{Original: 100, Available: 110, Reserved: -10, Consumed: 0}, false},
		{"all zero original", Lot{Original: 0, Available: 0, Reserved: 0, Consumed: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.l.CheckInvariant(); got != tt.want {
				t.Errorf("CheckInvariant() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry", nil, false},
		{"expired", &past, true},
		{"not yet expired", &future, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Lot{ExpiresAt: tt.expiresAt}
			if got := l.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLotZeroValueSourceID(t *testing.T) {
	amount := types.MicroUSD(500)
	l := New(id.NewAccountID(), GeneralPool, SourceGrant, "", amount, nil)
	if l.SourceID != "" {
		t.Errorf("expected empty source id, got %q", l.SourceID)
	}
	if l.Original != amount {
		t.Errorf("Original = %d, want %d", l.Original, amount)
	}
}
