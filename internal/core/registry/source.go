package registry

import (
	"context"
	"fmt"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// Scanner iterates the live records of a class. The document store
// implementations satisfy it.
type Scanner interface {
	Scan(ctx context.Context, class domain.ClassName, fn func(domain.Record) error) error
}

// StoreSource reads a class live from the document store.
type StoreSource struct {
	class   domain.ClassName
	scanner Scanner
}

// NewStoreSource creates a live source for class.
func NewStoreSource(class domain.ClassName, scanner Scanner) *StoreSource {
	return &StoreSource{class: class, scanner: scanner}
}

// Kind implements Source.
func (s *StoreSource) Kind() SourceKind { return KindStore }

// Each implements Source. Store errors are reported as upstream failures;
// errors returned by fn pass through untouched.
func (s *StoreSource) Each(ctx context.Context, fn func(domain.Record) error) error {
	var fnErr error
	err := s.scanner.Scan(ctx, s.class, func(rec domain.Record) error {
		if err := fn(rec); err != nil {
			fnErr = err
			return err
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return domain.ErrUpstreamFailure.WithDetails(fmt.Sprintf("scan %s", s.class)).WithCause(err)
	}
	return nil
}

// FetchFunc loads the records of a secondary collection.
type FetchFunc func(ctx context.Context) ([]domain.Record, error)

// DerivedSource computes its records with a blocking fetch that must
// complete before any record is yielded.
type DerivedSource struct {
	name  string
	fetch FetchFunc
}

// NewDerivedSource creates a derived source. name labels the collection
// in errors.
func NewDerivedSource(name string, fetch FetchFunc) *DerivedSource {
	return &DerivedSource{name: name, fetch: fetch}
}

// Kind implements Source.
func (s *DerivedSource) Kind() SourceKind { return KindDerived }

// Each implements Source.
func (s *DerivedSource) Each(ctx context.Context, fn func(domain.Record) error) error {
	records, err := s.fetch(ctx)
	if err != nil {
		return domain.ErrUpstreamFailure.WithDetails(fmt.Sprintf("fetch %s", s.name)).WithCause(err)
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
