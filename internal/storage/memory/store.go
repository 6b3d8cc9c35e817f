package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/storage/docstore"
	"github.com/yndnr/mdmcache-go/pkg/cmap"
)

// Store is an in-memory docstore.Store. Records are kept encoded, one
// table per class.
type Store struct {
	classes *cmap.Map[domain.ClassName, *table]
	closed  atomic.Bool
}

type table struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

var _ docstore.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{classes: cmap.New[domain.ClassName, *table](cmap.DefaultShards)}
}

func (s *Store) table(class domain.ClassName) *table {
	return s.classes.GetOrCreate(class, func() *table {
		return &table{docs: make(map[string][]byte)}
	})
}

// Put implements docstore.Store.
func (s *Store) Put(ctx context.Context, class domain.ClassName, rec domain.Record) error {
	_, err := s.PutMany(ctx, class, []domain.Record{rec})
	return err
}

// PutMany implements docstore.Store. The batch is validated before any
// record is stored.
func (s *Store) PutMany(_ context.Context, class domain.ClassName, recs []domain.Record) (int, error) {
	if s.closed.Load() {
		return 0, docstore.ErrClosed
	}
	encoded := make([][]byte, len(recs))
	for i, rec := range recs {
		if err := docstore.CheckRecord(class, rec); err != nil {
			return 0, err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return 0, domain.ErrInvalidArgument.Wrap(err)
		}
		encoded[i] = data
	}

	t := s.table(class)
	t.mu.Lock()
	for i, rec := range recs {
		t.docs[rec.Ref()] = encoded[i]
	}
	t.mu.Unlock()
	return len(recs), nil
}

// Get implements docstore.Store.
func (s *Store) Get(_ context.Context, class domain.ClassName, ref string) (domain.Record, error) {
	if s.closed.Load() {
		return nil, docstore.ErrClosed
	}
	t, ok := s.classes.Get(class)
	if !ok {
		return nil, docstore.ErrRecordNotFound
	}
	t.mu.RLock()
	data, ok := t.docs[ref]
	t.mu.RUnlock()
	if !ok {
		return nil, docstore.ErrRecordNotFound
	}
	return decode(data)
}

// Delete implements docstore.Store.
func (s *Store) Delete(_ context.Context, class domain.ClassName, ref string) error {
	if s.closed.Load() {
		return docstore.ErrClosed
	}
	if t, ok := s.classes.Get(class); ok {
		t.mu.Lock()
		delete(t.docs, ref)
		t.mu.Unlock()
	}
	return nil
}

// Scan implements docstore.Store. Records are visited in ref order over
// a copy taken when the scan starts.
func (s *Store) Scan(ctx context.Context, class domain.ClassName, fn func(domain.Record) error) error {
	if s.closed.Load() {
		return docstore.ErrClosed
	}
	t, ok := s.classes.Get(class)
	if !ok {
		return nil
	}

	t.mu.RLock()
	refs := make([]string, 0, len(t.docs))
	docs := make(map[string][]byte, len(t.docs))
	for ref, data := range t.docs {
		refs = append(refs, ref)
		docs[ref] = data
	}
	t.mu.RUnlock()
	slices.Sort(refs)

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := decode(docs[ref])
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Count implements docstore.Store.
func (s *Store) Count(_ context.Context, class domain.ClassName) (int, error) {
	if s.closed.Load() {
		return 0, docstore.ErrClosed
	}
	t, ok := s.classes.Get(class)
	if !ok {
		return 0, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.docs), nil
}

// Close implements docstore.Store.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func decode(data []byte) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
