package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMicroUSDAdd(t *testing.T) {
	tests := []struct {
		name    string
		a, b    MicroUSD
		want    MicroUSD
		wantErr bool
	}{
		{"simple", 100, 200, 300, false},
		{"zero", 0, 0, 0, false},
		{"at ceiling", MaxMicroUSD - 1, 1, MaxMicroUSD, false},
		{"above ceiling", MaxMicroUSD, 1, 0, true},
		{"overflow wraparound", MaxMicroUSD, MaxMicroUSD, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Add(tt.b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Add(%d,%d) err = %v, wantErr %v", tt.a, tt.b, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Add(%d,%d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMicroUSDSub(t *testing.T) {
	tests := []struct {
		name    string
		a, b    MicroUSD
		want    MicroUSD
		wantErr bool
	}{
		{"simple", 300, 100, 200, false},
		{"exact zero", 100, 100, 0, false},
		{"below zero", 100, 200, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Sub(tt.b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Sub(%d,%d) err = %v, wantErr %v", tt.a, tt.b, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Sub(%d,%d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			var arithErr *ArithmeticError
			if tt.wantErr && !errors.As(err, &arithErr) {
				t.Errorf("expected *ArithmeticError, got %T", err)
			}
		})
	}
}

func TestMicroUSDPredicates(t *testing.T) {
	if !MicroUSD(0).IsZero() {
		t.Error("0 should be IsZero")
	}
	if MicroUSD(1).IsZero() {
		t.Error("1 should not be IsZero")
	}
	if !MicroUSD(1).IsPositive() {
		t.Error("1 should be IsPositive")
	}
	if MicroUSD(0).IsPositive() {
		t.Error("0 should not be IsPositive")
	}
	if !MicroUSD(1).LessThan(MicroUSD(2)) {
		t.Error("1 should be LessThan 2")
	}
	if !MicroUSD(2).GreaterThan(MicroUSD(1)) {
		t.Error("2 should be GreaterThan 1")
	}
}

func TestMicroUSDString(t *testing.T) {
	tests := []struct {
		amount MicroUSD
		want   string
	}{
		{0, "0.000000"},
		{1_000_000, "1.000000"},
		{12_340_000, "12.340000"},
		{1, "0.000001"},
		{-1_500_000, "-1.500000"},
	}
	for _, tt := range tests {
		if got := tt.amount.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestMicroUSDDisplayUSD(t *testing.T) {
	m := MicroUSD(1_234_567)
	got := m.DisplayUSD()
	if got.Currency != "usd" {
		t.Errorf("Currency = %q, want usd", got.Currency)
	}
	if got.Amount != 123 {
		t.Errorf("Amount = %d, want 123", got.Amount)
	}
}

func TestMicroUSDJSONRoundTrip(t *testing.T) {
	m := MicroUSD(12_340_000)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"12.340000"` {
		t.Errorf("Marshal = %s, want canonical decimal string", data)
	}

	var roundtrip MicroUSD
	if err := json.Unmarshal(data, &roundtrip); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if roundtrip != m {
		t.Errorf("roundtrip = %d, want %d", roundtrip, m)
	}
}

func TestMicroUSDUnmarshalBareInteger(t *testing.T) {
	var m MicroUSD
	if err := json.Unmarshal([]byte(`500`), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m != 500 {
		t.Errorf("m = %d, want 500", m)
	}
}

func TestBPSShare(t *testing.T) {
	tests := []struct {
		amount MicroUSD
		bps    BPS
		want   MicroUSD
	}{
		{10000, 5000, 5000},
		{10000, 10000, 10000},
		{10000, 0, 0},
		{3, 5000, 1}, // truncates
	}
	for _, tt := range tests {
		if got := tt.amount.BPSShare(tt.bps); got != tt.want {
			t.Errorf("BPSShare(%d,%d) = %d, want %d", tt.amount, tt.bps, got, tt.want)
		}
	}
}

func TestAssertSumTo10000(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c BPS
		wantErr bool
	}{
		{"exact split", 5000, 3000, 2000, false},
		{"all to one", 10000, 0, 0, false},
		{"under sum", 4000, 3000, 2000, true},
		{"over sum", 6000, 3000, 2000, true},
		{"negative share", -1, 5001, 5000, true},
		{"share above ceiling", 10001, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertSumTo10000(tt.a, tt.b, tt.c)
			if (err != nil) != tt.wantErr {
				t.Errorf("AssertSumTo10000(%d,%d,%d) err = %v, wantErr %v", tt.a, tt.b, tt.c, err, tt.wantErr)
			}
		})
	}
}

func TestParseMicroUSDEnforceMode(t *testing.T) {
	tests := []struct {
		in      string
		want    MicroUSD
		wantErr bool
	}{
		{"0", 0, false},
		{"123", 123, false},
		{"007", 0, true},  // leading zeros rejected in enforce mode
		{"+5", 0, true},   // leading plus rejected
		{" 5", 0, true},   // whitespace rejected
		{"-5", 0, true},   // negative rejected by pattern
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMicroUSD(tt.in, ModeEnforce)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMicroUSD(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseMicroUSD(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseMicroUSDLegacyMode(t *testing.T) {
	tests := []struct {
		in   string
		want MicroUSD
	}{
		{"007", 7},
		{" 5 ", 5},
		{"+5", 5},
		{"0", 0},
	}
	for _, tt := range tests {
		got, err := ParseMicroUSD(tt.in, ModeLegacy)
		if err != nil {
			t.Fatalf("ParseMicroUSD(%q, legacy): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMicroUSD(%q, legacy) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseMicroUSDAboveCeiling(t *testing.T) {
	_, err := ParseMicroUSD("2000000000000000", ModeEnforce)
	if err == nil {
		t.Fatal("expected an error parsing an amount above MaxMicroUSD")
	}
}

type recordingDivergence struct {
	calls int
	input string
}

func (r *recordingDivergence) RecordDivergence(input string, legacy, enforce MicroUSD, enforceErr error) {
	r.calls++
	r.input = input
}

func TestShadowParserRecordsDivergence(t *testing.T) {
	rec := &recordingDivergence{}
	p := ShadowParser{Recorder: rec}

	got, err := p.Parse("007")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != 7 {
		t.Errorf("Parse(\"007\") = %d, want 7", got)
	}
	if rec.calls != 1 {
		t.Fatalf("expected exactly one recorded divergence, got %d", rec.calls)
	}
}

func TestShadowParserNoDivergenceOnAgreement(t *testing.T) {
	rec := &recordingDivergence{}
	p := ShadowParser{Recorder: rec}

	if _, err := p.Parse("123"); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.calls != 0 {
		t.Errorf("expected no divergence when both modes agree, got %d calls", rec.calls)
	}
}

func TestShadowParserDefaultsToNoopRecorder(t *testing.T) {
	p := ShadowParser{}
	if _, err := p.Parse("007"); err != nil {
		t.Fatalf("Parse with nil recorder should not panic or error: %v", err)
	}
}
