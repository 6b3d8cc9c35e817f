package snapshot

import (
	"context"
	"sync"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/registry"
)

// Classes whose exported form inlines related records.
const (
	classNom         domain.ClassName = "cat.nom"
	classNomUnits    domain.ClassName = "cat.nom_units"
	classUsers       domain.ClassName = "cat.users"
	classIndividuals domain.ClassName = "cat.individuals"
	classBranches    domain.ClassName = "cat.branches"
)

// exporter turns records into their exported form. It belongs to one build
// and loads the related-record indexes lazily, at most once.
type exporter struct {
	reg *registry.Registry

	unitsOnce sync.Once
	units     map[string][]domain.Record
	unitsErr  error

	personsOnce sync.Once
	persons     map[string]domain.Record
	personsErr  error
}

func newExporter(reg *registry.Registry) *exporter {
	return &exporter{reg: reg}
}

// export returns the exported form of a record. Index loading failures are
// upstream failures and abort the build.
func (e *exporter) export(ctx context.Context, class domain.ClassName, r domain.Record) (domain.Record, error) {
	switch class {
	case classNom:
		units, err := e.unitIndex(ctx)
		if err != nil {
			return nil, err
		}
		out := r.Clone()
		rows := units[r.Ref()]
		if rows == nil {
			rows = []domain.Record{}
		}
		out["units"] = rows
		return out, nil

	case classUsers:
		ref := r.String("individual_person")
		if domain.IsEmptyRef(ref) {
			return r, nil
		}
		persons, err := e.personIndex(ctx)
		if err != nil {
			return nil, err
		}
		person, ok := persons[ref]
		if !ok {
			return r, nil
		}
		out := r.Clone()
		out["person"] = person
		return out, nil
	}
	return r, nil
}

func (e *exporter) unitIndex(ctx context.Context) (map[string][]domain.Record, error) {
	e.unitsOnce.Do(func() {
		e.units = make(map[string][]domain.Record)
		e.unitsErr = e.scan(ctx, classNomUnits, func(r domain.Record) {
			if owner := r.String("owner"); !domain.IsEmptyRef(owner) {
				e.units[owner] = append(e.units[owner], r)
			}
		})
	})
	return e.units, e.unitsErr
}

func (e *exporter) personIndex(ctx context.Context) (map[string]domain.Record, error) {
	e.personsOnce.Do(func() {
		e.persons = make(map[string]domain.Record)
		e.personsErr = e.scan(ctx, classIndividuals, func(r domain.Record) {
			e.persons[r.Ref()] = r
		})
	})
	return e.persons, e.personsErr
}

// scan reads every record of an auxiliary class. An unregistered class
// yields an empty index.
func (e *exporter) scan(ctx context.Context, class domain.ClassName, fn func(domain.Record)) error {
	src, ok := e.reg.Resolve(class)
	if !ok {
		return nil
	}
	return src.Each(ctx, func(r domain.Record) error {
		if !r.Bool("_deleted") {
			fn(r)
		}
		return nil
	})
}
