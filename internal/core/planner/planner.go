// Package planner computes the load order of data classes.
//
// Every exported class falls into exactly one of seven tiers. Clients reload
// tiers in order, so a class only references classes of its own or an
// earlier tier. Classification uses an explicit table keyed by full class
// name; classes of the enumerated domain that are not in the table fall into
// the default tier.
package planner

import (
	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// EnumeratedDomain is the domain whose classes are planned individually.
// Other domains only contribute the fixed bootstrap and trailing classes.
const EnumeratedDomain = "cat"

// Bootstrap is the shared properties schema, always loaded first.
const Bootstrap domain.ClassName = "cch.properties"

// Trailing classes may reference anything from earlier tiers.
var Trailing = []domain.ClassName{
	"cch.predefined_elmnts",
	"doc.calc_order",
}

// Excluded classes are internal or auxiliary and never exported.
var Excluded = map[domain.ClassName]struct{}{
	"cat.abonents":                  {},
	"cat.servers":                   {},
	"cat.nom_units":                 {},
	"cat.individuals":               {},
	"cat.meta_fields":               {},
	"cat.meta_objs":                 {},
	"cat.property_values_hierarchy": {},
}

// DefaultTable is the explicit classification of the enumerated domain.
// It reproduces the historical name-based rules for the known registry.
var DefaultTable = map[domain.ClassName]domain.Tier{
	"cat.property_values":           domain.TierProperties,
	"cat.contact_information_kinds": domain.TierProperties,
	"cat.users":                     domain.TierUsers,
	"cat.nom":                       domain.TierNomenclature,
	"cat.nom_groups":                domain.TierNomenclature,
	"cat.nom_kinds":                 domain.TierNomenclature,
	"cat.nom_prices_types":          domain.TierNomenclature,
	"cat.formulas":                  domain.TierFormulas,
}

// ClassLister enumerates registered classes. *registry.Registry satisfies it.
type ClassLister interface {
	Classes() []domain.ClassName
}

// Planner classifies classes into tiers.
type Planner struct {
	table    map[domain.ClassName]domain.Tier
	excluded map[domain.ClassName]struct{}
}

// Option configures a Planner.
type Option func(*Planner)

// WithClassification adds or overrides table entries.
func WithClassification(entries map[domain.ClassName]domain.Tier) Option {
	return func(p *Planner) {
		for name, tier := range entries {
			p.table[name] = tier
		}
	}
}

// WithExcluded adds classes that are never exported.
func WithExcluded(names ...domain.ClassName) Option {
	return func(p *Planner) {
		for _, name := range names {
			p.excluded[name] = struct{}{}
		}
	}
}

// New creates a planner with the default table.
func New(opts ...Option) *Planner {
	p := &Planner{
		table:    make(map[domain.ClassName]domain.Tier, len(DefaultTable)),
		excluded: make(map[domain.ClassName]struct{}, len(Excluded)),
	}
	for name, tier := range DefaultTable {
		p.table[name] = tier
	}
	for name := range Excluded {
		p.excluded[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsExcluded reports whether a class is never exported.
func (p *Planner) IsExcluded(name domain.ClassName) bool {
	_, ok := p.excluded[name]
	return ok
}

// Classify returns the tier of one class of the enumerated domain.
func (p *Planner) Classify(name domain.ClassName) (domain.Tier, bool) {
	if name == Bootstrap {
		return domain.TierBootstrap, true
	}
	for _, t := range Trailing {
		if name == t {
			return domain.TierTrailing, true
		}
	}
	if p.IsExcluded(name) || name.Domain() != EnumeratedDomain {
		return 0, false
	}
	if tier, ok := p.table[name]; ok {
		return tier, true
	}
	return domain.TierDefault, true
}

// Plan computes the tiers for the registry. Tier 0 and tier 6 always hold
// their fixed classes, registered or not; within the other tiers classes
// follow registry enumeration order.
func (p *Planner) Plan(reg ClassLister) Plan {
	var plan Plan
	plan.tiers[domain.TierBootstrap] = []domain.ClassName{Bootstrap}
	plan.tiers[domain.TierTrailing] = append([]domain.ClassName(nil), Trailing...)

	for _, name := range reg.Classes() {
		if name.Domain() != EnumeratedDomain {
			continue
		}
		tier, ok := p.Classify(name)
		if !ok || tier == domain.TierBootstrap || tier == domain.TierTrailing {
			continue
		}
		plan.tiers[tier] = append(plan.tiers[tier], name)
	}
	return plan
}

// Plan is an ordered list of tiers.
type Plan struct {
	tiers [domain.NumTiers][]domain.ClassName
}

// Tiers returns a copy of the tiers.
func (p Plan) Tiers() [][]domain.ClassName {
	out := make([][]domain.ClassName, domain.NumTiers)
	for i, t := range p.tiers {
		out[i] = append([]domain.ClassName(nil), t...)
	}
	return out
}

// Tier returns the classes of one tier.
func (p Plan) Tier(t domain.Tier) []domain.ClassName {
	if t < 0 || int(t) >= domain.NumTiers {
		return nil
	}
	return append([]domain.ClassName(nil), p.tiers[t]...)
}

// Flatten returns all classes in load order.
func (p Plan) Flatten() []domain.ClassName {
	var out []domain.ClassName
	for _, t := range p.tiers {
		out = append(out, t...)
	}
	return out
}

// TierOf returns the tier holding a class.
func (p Plan) TierOf(name domain.ClassName) (domain.Tier, bool) {
	for i, t := range p.tiers {
		for _, n := range t {
			if n == name {
				return domain.Tier(i), true
			}
		}
	}
	return 0, false
}

// Contains reports whether the plan holds the class.
func (p Plan) Contains(name domain.ClassName) bool {
	_, ok := p.TierOf(name)
	return ok
}
