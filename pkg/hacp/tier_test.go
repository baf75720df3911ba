package hacp

import (
	"encoding/json"
	"testing"
)

func TestResolveTier(t *testing.T) {
	tests := []struct {
		plan     string
		expected Level
	}{
		{"free", T1},
		{"unlimited", T1},
		{"core", T2},
		{"pro", T3},
		{"fullPro", T3},
		{"custom", T4},
		{"white_label", T4},
		{"nonexistent_plan", T1},
		{"", T1},
		{"PRO", T1},
		{"\x00\xff garbage", T1},
		{"日本語", T1},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			tier := ResolveTier(tt.plan)
			if tier.Level != tt.expected {
				t.Errorf("expected tier %v, got %v", tt.expected, tier.Level)
			}
			if tier.Name == "" || len(tier.Features) == 0 {
				t.Errorf("expected a populated tier, got %+v", tier)
			}
		})
	}
}

func TestResolveTierFallbackMatchesFree(t *testing.T) {
	unknown := ResolveTier("nonexistent_plan")
	free := ResolveTier("free")
	if unknown.Level != free.Level || unknown.Name != free.Name {
		t.Errorf("expected fallback %v to equal free %v", unknown.Level, free.Level)
	}
}

func TestTierTableIsNotShared(t *testing.T) {
	tier := ResolveTier("pro")
	tier.Features[0] = "tampered"
	tier.Name = "tampered"

	again := ResolveTier("pro")
	if again.Features[0] != "negotiation_support" || again.Name != "Negotiation & Decision" {
		t.Errorf("tier table was mutated through a lookup: %+v", again)
	}
}

func TestCalibrationIncreasesWithLevel(t *testing.T) {
	want := []Calibration{CalibrationLow, CalibrationMedium, CalibrationHigh, CalibrationEnterprise}
	all := Tiers()
	if len(all) != len(want) {
		t.Fatalf("expected %d tiers, got %d", len(want), len(all))
	}
	for i, tier := range all {
		if tier.Level != Level(i+1) {
			t.Errorf("tier %d out of order: %v", i, tier.Level)
		}
		if tier.Calibration != want[i] {
			t.Errorf("%v: expected calibration %v, got %v", tier.Level, want[i], tier.Calibration)
		}
	}
}

func TestLookupTierInvalidLevel(t *testing.T) {
	if got := LookupTier(Level(9)).Level; got != T1 {
		t.Errorf("expected T1 for invalid level, got %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"T3", "t3", " T3 "} {
		l, err := ParseLevel(s)
		if err != nil || l != T3 {
			t.Errorf("ParseLevel(%q) = %v, %v", s, l, err)
		}
	}
	if _, err := ParseLevel("T5"); err == nil {
		t.Error("expected error for T5")
	}
}

func TestLevelJSON(t *testing.T) {
	data, err := json.Marshal(T2)
	if err != nil || string(data) != `"T2"` {
		t.Fatalf("marshal: %s, %v", data, err)
	}
	var l Level
	if err := json.Unmarshal([]byte(`"T4"`), &l); err != nil || l != T4 {
		t.Errorf("unmarshal: %v, %v", l, err)
	}
	if err := json.Unmarshal([]byte(`"T0"`), &l); err == nil {
		t.Error("expected error for T0")
	}
}
