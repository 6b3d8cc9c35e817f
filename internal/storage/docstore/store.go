package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// ErrRecordNotFound is returned by Get for an unknown reference.
var ErrRecordNotFound = errors.New("docstore: record not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("docstore: store closed")

// Store is a class-partitioned document store. Scan yields records in
// reference order, which keeps snapshot payloads stable between builds.
type Store interface {
	Put(ctx context.Context, class domain.ClassName, rec domain.Record) error
	PutMany(ctx context.Context, class domain.ClassName, recs []domain.Record) (int, error)
	Get(ctx context.Context, class domain.ClassName, ref string) (domain.Record, error)
	Delete(ctx context.Context, class domain.ClassName, ref string) error
	Scan(ctx context.Context, class domain.ClassName, fn func(domain.Record) error) error
	Count(ctx context.Context, class domain.ClassName) (int, error)
	Close() error
}

// Key returns the storage key of a record.
func Key(class domain.ClassName, ref string) []byte {
	return []byte(string(class) + "\x00" + ref)
}

// Prefix returns the key prefix shared by every record of a class.
func Prefix(class domain.ClassName) []byte {
	return []byte(string(class) + "\x00")
}

// CheckRecord validates a record before it is stored.
func CheckRecord(class domain.ClassName, rec domain.Record) error {
	if !class.Valid() {
		return domain.ErrUnknownClass.WithDetails(string(class))
	}
	ref := rec.Ref()
	if domain.IsEmptyRef(ref) {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("%s: record without ref", class))
	}
	if strings.ContainsRune(ref, 0) {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("%s: invalid ref", class))
	}
	return nil
}

// Fetcher reads a whole class of a secondary collection in one call.
type Fetcher interface {
	Fetch(ctx context.Context, class domain.ClassName) ([]domain.Record, error)
}

// StoreFetcher serves a secondary collection kept in a local store under
// the "{collection}.{entity}" classes.
type StoreFetcher struct {
	Store      Store
	Collection string
}

// Fetch implements Fetcher.
func (f StoreFetcher) Fetch(ctx context.Context, class domain.ClassName) ([]domain.Record, error) {
	local := domain.ClassName(f.Collection + "." + class.Entity())
	var out []domain.Record
	err := f.Store.Scan(ctx, local, func(r domain.Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}
