// Package registry maps data classes to the sources their records come from.
//
// A class is registered with exactly one Source. Two source kinds exist:
// a live source reading the document store, and a derived source computing
// its records from a secondary collection with a blocking fetch.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// SourceKind tells how a source obtains its records.
type SourceKind string

const (
	// KindStore reads records live from the document store.
	KindStore SourceKind = "store"
	// KindDerived computes records from a secondary collection.
	KindDerived SourceKind = "derived"
)

// Source yields the records of one class.
type Source interface {
	Kind() SourceKind
	// Each calls fn for every record, in a stable order. Iteration stops at
	// the first error returned by fn.
	Each(ctx context.Context, fn func(domain.Record) error) error
}

// Registry is the class -> source table. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.ClassName]Source
	order   []domain.ClassName
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sources: make(map[domain.ClassName]Source),
	}
}

// Register binds a class to its source. Registering a class twice fails.
func (r *Registry) Register(name domain.ClassName, src Source) error {
	if !name.Valid() {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("class name %q", name))
	}
	if src == nil {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("nil source for %s", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[name]; ok {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("class %s already registered", name))
	}
	r.sources[name] = src
	r.order = append(r.order, name)
	return nil
}

// Resolve returns the source of a class.
func (r *Registry) Resolve(name domain.ClassName) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Classes returns all registered classes in registration order.
func (r *Registry) Classes() []domain.ClassName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ClassName, len(r.order))
	copy(out, r.order)
	return out
}

// ByDomain returns the classes of one domain in registration order.
func (r *Registry) ByDomain(d string) []domain.ClassName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ClassName
	for _, name := range r.order {
		if name.Domain() == d {
			out = append(out, name)
		}
	}
	return out
}
