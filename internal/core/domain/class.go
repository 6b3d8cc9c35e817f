package domain

import "strings"

// ClassName identifies a data class as "<domain>.<entity>", e.g. "cat.nom".
type ClassName string

// Domain returns the prefix before the first dot ("cat" for "cat.nom").
func (c ClassName) Domain() string {
	d, _, _ := strings.Cut(string(c), ".")
	return d
}

// Entity returns the part after the first dot ("nom" for "cat.nom").
func (c ClassName) Entity() string {
	_, e, _ := strings.Cut(string(c), ".")
	return e
}

// Valid reports whether both the domain and the entity part are present.
func (c ClassName) Valid() bool {
	d, e, ok := strings.Cut(string(c), ".")
	return ok && d != "" && e != "" && !strings.ContainsAny(string(c), "/\\ \x00")
}

// FileName returns the snapshot file name for the class.
func (c ClassName) FileName() string {
	return string(c) + ".json"
}

// String implements fmt.Stringer.
func (c ClassName) String() string {
	return string(c)
}

// Tier is a fixed load-order bucket. Lower tiers are loaded first.
type Tier int

// Load-order tiers.
const (
	TierBootstrap   Tier = iota // shared properties schema
	TierProperties              // property values, contact information kinds
	TierUsers                   // users
	TierNomenclature            // nomenclature family
	TierDefault                 // everything else
	TierFormulas                // formulas, trail the catalogs they read
	TierTrailing                // may reference anything above

	// NumTiers is the number of tiers.
	NumTiers = int(TierTrailing) + 1
)

var tierNames = [NumTiers]string{
	"bootstrap",
	"properties",
	"users",
	"nomenclature",
	"default",
	"formulas",
	"trailing",
}

// String returns the tier name.
func (t Tier) String() string {
	if t < 0 || int(t) >= NumTiers {
		return "unknown"
	}
	return tierNames[t]
}

// ParseTier maps a tier name back to its tier.
func ParseTier(name string) (Tier, bool) {
	for i, n := range tierNames {
		if n == name {
			return Tier(i), true
		}
	}
	return 0, false
}
