package domain

import "testing"

func TestClassName(t *testing.T) {
	tests := []struct {
		name   ClassName
		domain string
		entity string
		valid  bool
	}{
		{"cat.nom", "cat", "nom", true},
		{"cch.predefined_elmnts", "cch", "predefined_elmnts", true},
		{"doc.calc_order", "doc", "calc_order", true},
		{"nodot", "nodot", "", false},
		{".nom", "", "nom", false},
		{"cat.", "cat", "", false},
		{"cat.../etc", "cat", "../etc", false},
		{"cat.a b", "cat", "a b", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			if got := tt.name.Domain(); got != tt.domain {
				t.Errorf("Domain() = %q, want %q", got, tt.domain)
			}
			if got := tt.name.Entity(); got != tt.entity {
				t.Errorf("Entity() = %q, want %q", got, tt.entity)
			}
			if got := tt.name.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestClassName_FileName(t *testing.T) {
	if got := ClassName("cat.nom").FileName(); got != "cat.nom.json" {
		t.Errorf("FileName() = %q", got)
	}
}

func TestTier_String(t *testing.T) {
	if TierBootstrap.String() != "bootstrap" || TierTrailing.String() != "trailing" {
		t.Error("unexpected tier names")
	}
	if Tier(NumTiers).String() != "unknown" || Tier(-1).String() != "unknown" {
		t.Error("out of range tiers should be unknown")
	}
}

func TestParseTier(t *testing.T) {
	for i := 0; i < NumTiers; i++ {
		got, ok := ParseTier(Tier(i).String())
		if !ok || got != Tier(i) {
			t.Errorf("ParseTier(%q) = %v, %v", Tier(i).String(), got, ok)
		}
	}
	if _, ok := ParseTier("nope"); ok {
		t.Error("unknown name should not parse")
	}
}
