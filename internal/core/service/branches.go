package service

import (
	"context"
	"errors"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/registry"
)

// BranchClass is the class holding branch records.
const BranchClass domain.ClassName = "cat.branches"

// BranchDirectory finds branches by directory suffix.
type BranchDirectory interface {
	// BranchBySuffix returns the branch and true, or an empty branch and
	// false when no branch uses the suffix.
	BranchBySuffix(ctx context.Context, suffix string) (domain.Branch, bool, error)
}

// StoreBranches reads branches from the document store.
type StoreBranches struct {
	Scanner registry.Scanner
}

var errFound = errors.New("found")

// BranchBySuffix implements BranchDirectory.
func (b StoreBranches) BranchBySuffix(ctx context.Context, suffix string) (domain.Branch, bool, error) {
	if suffix == "" {
		return domain.Branch{}, false, nil
	}
	var found domain.Branch
	err := b.Scanner.Scan(ctx, BranchClass, func(r domain.Record) error {
		if r.Bool("_deleted") || r.String("suffix") != suffix {
			return nil
		}
		found = domain.BranchFromRecord(r)
		return errFound
	})
	switch {
	case errors.Is(err, errFound):
		return found, true, nil
	case err != nil:
		return domain.Branch{}, false, domain.ErrUpstreamFailure.WithDetails("lookup branch " + suffix).WithCause(err)
	default:
		return domain.Branch{}, false, nil
	}
}
