package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

func openTestBadger(t *testing.T) *Badger {
	t.Helper()
	cfg := DefaultBadgerConfig(t.TempDir())
	s, err := OpenBadger(cfg, nil)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadger_Lifecycle(t *testing.T) {
	s := openTestBadger(t)
	ctx := context.Background()

	t.Run("Put and Get", func(t *testing.T) {
		rec := domain.Record{"ref": "p1", "name": "Acme", "branch": "b1"}
		if err := s.Put(ctx, "cat.partners", rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "cat.partners", "p1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.String("name") != "Acme" || got.String("branch") != "b1" {
			t.Errorf("Get = %v", got)
		}
	})

	t.Run("Get unknown", func(t *testing.T) {
		if _, err := s.Get(ctx, "cat.partners", "missing"); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("Get error = %v, want ErrRecordNotFound", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(ctx, "cat.partners", "p1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, "cat.partners", "p1"); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("Get after Delete = %v", err)
		}
	})
}

func TestBadger_ScanIsOrderedAndPrefixed(t *testing.T) {
	s := openTestBadger(t)
	ctx := context.Background()

	n, err := s.PutMany(ctx, "cat.nom", []domain.Record{{"ref": "b"}, {"ref": "c"}, {"ref": "a"}})
	if err != nil || n != 3 {
		t.Fatalf("PutMany = %d, %v", n, err)
	}
	// cat.nom_units shares the "cat.nom" text prefix but not the key prefix.
	if err := s.Put(ctx, "cat.nom_units", domain.Record{"ref": "u1", "owner": "a"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var refs []string
	err = s.Scan(ctx, "cat.nom", func(r domain.Record) error {
		refs = append(refs, r.Ref())
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(refs) != len(want) {
		t.Fatalf("refs = %v, want %v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("refs[%d] = %s, want %s", i, refs[i], want[i])
		}
	}

	count, err := s.Count(ctx, "cat.nom_units")
	if err != nil || count != 1 {
		t.Errorf("Count(cat.nom_units) = %d, %v", count, err)
	}
}

func TestBadger_ScanHonorsContext(t *testing.T) {
	s := openTestBadger(t)
	s.PutMany(context.Background(), "cat.nom", []domain.Record{{"ref": "a"}, {"ref": "b"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Scan(ctx, "cat.nom", func(domain.Record) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Scan error = %v, want context.Canceled", err)
	}
}

func TestBadger_RejectsInvalidBatch(t *testing.T) {
	s := openTestBadger(t)
	ctx := context.Background()

	_, err := s.PutMany(ctx, "cat.nom", []domain.Record{{"ref": "ok"}, {"name": "no ref"}})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("PutMany error = %v, want ErrInvalidArgument", err)
	}
	if n, _ := s.Count(ctx, "cat.nom"); n != 0 {
		t.Errorf("rejected batch stored %d records", n)
	}
}

func TestBadger_ClosedStore(t *testing.T) {
	s, err := OpenBadger(BadgerConfig{InMemory: true}, nil)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.Get(context.Background(), "cat.nom", "a"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
}

func TestOpenBadger_RequiresDir(t *testing.T) {
	if _, err := OpenBadger(BadgerConfig{}, nil); err == nil {
		t.Error("OpenBadger without dir should fail")
	}
}

func TestStoreFetcher_ReadsLocalCollection(t *testing.T) {
	s := openTestBadger(t)
	ctx := context.Background()
	s.PutMany(ctx, "ram.predefined_elmnts", []domain.Record{{"ref": "e1"}, {"ref": "e2"}})

	f := StoreFetcher{Store: s, Collection: "ram"}
	recs, err := f.Fetch(ctx, "cch.predefined_elmnts")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 2 || recs[0].Ref() != "e1" {
		t.Errorf("Fetch = %v", recs)
	}
}
