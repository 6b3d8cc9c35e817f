package snapshot

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// Candidate is the input of the inclusion predicate for one record.
type Candidate struct {
	Record   domain.Record
	Class    domain.ClassName
	Zone     string
	Branch   domain.Branch
	ByBranch bool
	Job      map[string]any
}

// Predicate decides whether a record belongs to a partition. An error is a
// record-level failure and aborts the affected class only.
type Predicate interface {
	Include(ctx context.Context, c Candidate) (bool, error)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(ctx context.Context, c Candidate) (bool, error)

// Include implements Predicate.
func (f PredicateFunc) Include(ctx context.Context, c Candidate) (bool, error) {
	return f(ctx, c)
}

// BranchPredicate holds the default inclusion rules plus optional per-class
// expression rules, which are ANDed with the defaults.
//
// Default rules:
//   - records flagged "_deleted" are dropped
//   - a record carrying a non-empty "zone" must match the build zone
//   - by-branch classes built for a branch keep only that branch's records:
//     "cat.branches" keeps the branch itself and its direct children, other
//     classes keep records whose "branch" is the branch or whose "branches"
//     list contains it
type BranchPredicate struct {
	rules map[domain.ClassName]*vm.Program
}

// NewBranchPredicate compiles the per-class rules. Each rule sees the
// variables record, class, zone, branch and job and must yield a bool.
func NewBranchPredicate(rules map[domain.ClassName]string) (*BranchPredicate, error) {
	p := &BranchPredicate{rules: make(map[domain.ClassName]*vm.Program, len(rules))}
	for class, src := range rules {
		if src == "" {
			continue
		}
		program, err := expr.Compile(src,
			expr.Env(map[string]any{}),
			expr.AllowUndefinedVariables(),
			expr.AsBool(),
		)
		if err != nil {
			return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("filter for %s", class)).Wrap(err)
		}
		p.rules[class] = program
	}
	return p, nil
}

// Include implements Predicate.
func (p *BranchPredicate) Include(_ context.Context, c Candidate) (bool, error) {
	if !defaultInclude(c) {
		return false, nil
	}
	program, ok := p.rules[c.Class]
	if !ok {
		return true, nil
	}
	out, err := expr.Run(program, ruleEnv(c))
	if err != nil {
		return false, domain.ErrRecordRejected.WithDetails(fmt.Sprintf("%s %s", c.Class, c.Record.Ref())).Wrap(err)
	}
	keep, ok := out.(bool)
	if !ok {
		return false, domain.ErrRecordRejected.WithDetails(fmt.Sprintf("%s filter returned %T", c.Class, out))
	}
	return keep, nil
}

func defaultInclude(c Candidate) bool {
	r := c.Record
	if r.Bool("_deleted") {
		return false
	}
	if zone := r.String("zone"); zone != "" && zone != "0" && zone != c.Zone {
		return false
	}
	if !c.ByBranch || c.Branch.Empty() {
		return true
	}

	ref := c.Branch.Ref
	if c.Class == "cat.branches" {
		return r.Ref() == ref || r.String("parent") == ref
	}
	if r.String("branch") == ref {
		return true
	}
	if list, ok := r["branches"].([]any); ok {
		for _, item := range list {
			switch v := item.(type) {
			case string:
				if v == ref {
					return true
				}
			case map[string]any:
				if domain.Record(v).String("acl_obj") == ref || domain.Record(v).Ref() == ref {
					return true
				}
			}
		}
	}
	return false
}

func ruleEnv(c Candidate) map[string]any {
	job := c.Job
	if job == nil {
		job = map[string]any{}
	}
	return map[string]any{
		"record": map[string]any(c.Record),
		"class":  string(c.Class),
		"zone":   c.Zone,
		"branch": map[string]any{
			"ref":    c.Branch.Ref,
			"suffix": c.Branch.Suffix,
			"name":   c.Branch.Name,
			"parent": c.Branch.Parent,
		},
		"job": job,
	}
}
