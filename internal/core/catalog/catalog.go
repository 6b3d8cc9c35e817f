// Package catalog holds the class lists that drive partitioning:
// which classes are shared by all branches, which are cut per branch,
// and the default class registry of the metadata store.
package catalog

import (
	"fmt"
	"slices"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// DefaultByBranch are the classes cut per branch.
var DefaultByBranch = []domain.ClassName{
	"cat.partners",
	"cat.contracts",
	"cat.branches",
	"cat.divisions",
	"cat.users",
	"cat.individuals",
	"cat.organizations",
}

// DefaultCommon are the classes shared by all branches and loaded first.
var DefaultCommon = []domain.ClassName{
	"cch.properties",
	"cat.property_values",
	"cat.contact_information_kinds",
	"cat.clrs",
	"cat.elm_visualization",
	"cat.units",
	"cat.countries",
	"cat.currencies",
	"cat.scheme_settings",
	"cat.meta_ids",
	"cat.destinations",
	"cat.nom_groups",
	"cat.nom_kinds",
	"cat.templates",
	"cat.nom",
}

// DefaultClasses is the class registry of the metadata store, in its own
// enumeration order.
var DefaultClasses = []domain.ClassName{
	"cch.properties",
	"cch.predefined_elmnts",
	"cat.abonents",
	"cat.servers",
	"cat.property_values",
	"cat.property_values_hierarchy",
	"cat.contact_information_kinds",
	"cat.meta_objs",
	"cat.meta_fields",
	"cat.scheme_settings",
	"cat.meta_ids",
	"cat.countries",
	"cat.currencies",
	"cat.units",
	"cat.users",
	"cat.individuals",
	"cat.organizations",
	"cat.branches",
	"cat.divisions",
	"cat.partners",
	"cat.contracts",
	"cat.nom_groups",
	"cat.nom_kinds",
	"cat.nom",
	"cat.nom_units",
	"cat.nom_prices_types",
	"cat.nonstandard_attributes",
	"cat.clrs",
	"cat.elm_visualization",
	"cat.destinations",
	"cat.templates",
	"cat.cashboxes",
	"cat.stores",
	"cat.inserts",
	"cat.furns",
	"cat.cnns",
	"cat.production_params",
	"cat.parameters_keys",
	"cat.delivery_areas",
	"cat.formulas",
	"doc.calc_order",
	"doc.credit_card_order",
}

// Catalog answers set membership questions for classes.
type Catalog struct {
	common   map[domain.ClassName]struct{}
	byBranch map[domain.ClassName]struct{}

	commonList   []domain.ClassName
	byBranchList []domain.ClassName
}

// New builds a catalog. The two sets must be disjoint.
func New(common, byBranch []domain.ClassName) (*Catalog, error) {
	c := &Catalog{
		common:       make(map[domain.ClassName]struct{}, len(common)),
		byBranch:     make(map[domain.ClassName]struct{}, len(byBranch)),
		commonList:   slices.Clone(common),
		byBranchList: slices.Clone(byBranch),
	}
	for _, name := range common {
		if !name.Valid() {
			return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("common class %q", name))
		}
		c.common[name] = struct{}{}
	}
	for _, name := range byBranch {
		if !name.Valid() {
			return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("by-branch class %q", name))
		}
		if _, dup := c.common[name]; dup {
			return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("class %q is both common and by-branch", name))
		}
		c.byBranch[name] = struct{}{}
	}
	return c, nil
}

// Default returns the catalog with the built-in sets.
func Default() *Catalog {
	c, err := New(DefaultCommon, DefaultByBranch)
	if err != nil {
		panic(err)
	}
	return c
}

// IsCommon reports whether the class is shared by all branches.
func (c *Catalog) IsCommon(name domain.ClassName) bool {
	_, ok := c.common[name]
	return ok
}

// IsByBranch reports whether the class is cut per branch.
func (c *Catalog) IsByBranch(name domain.ClassName) bool {
	_, ok := c.byBranch[name]
	return ok
}

// Common returns the common set in configuration order.
func (c *Catalog) Common() []domain.ClassName {
	return slices.Clone(c.commonList)
}

// ByBranch returns the by-branch set in configuration order.
func (c *Catalog) ByBranch() []domain.ClassName {
	return slices.Clone(c.byBranchList)
}
