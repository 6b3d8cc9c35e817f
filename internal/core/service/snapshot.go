package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/planner"
	"github.com/yndnr/mdmcache-go/internal/core/registry"
	"github.com/yndnr/mdmcache-go/internal/core/snapshot"
	"github.com/yndnr/mdmcache-go/internal/storage/partition"
)

// AccessPolicy decides what anonymous callers may read.
type AccessPolicy string

const (
	// PolicyPermissive serves branch data to anonymous callers and logs it.
	PolicyPermissive AccessPolicy = "permissive"
	// PolicyEnforce restricts anonymous callers to the common partition.
	PolicyEnforce AccessPolicy = "enforce"
)

// SnapshotServiceConfig wires a SnapshotService.
type SnapshotServiceConfig struct {
	Builder  *snapshot.Builder
	Server   *snapshot.Server
	Cache    *partition.Cache
	Registry *registry.Registry
	Planner  *planner.Planner
	Branches BranchDirectory
	Policy   AccessPolicy
	Limiter  *RebuildLimiter
	// Job is merged under the per-request job parameters of every rebuild.
	Job    map[string]any
	Logger *slog.Logger
}

// SnapshotService handles REBUILD, FETCH and manifest requests.
type SnapshotService struct {
	builder  *snapshot.Builder
	server   *snapshot.Server
	cache    *partition.Cache
	reg      *registry.Registry
	planner  *planner.Planner
	branches BranchDirectory
	policy   AccessPolicy
	limiter  *RebuildLimiter
	job      map[string]any
	logger   *slog.Logger
}

// NewSnapshotService creates a SnapshotService.
func NewSnapshotService(cfg SnapshotServiceConfig) (*SnapshotService, error) {
	if cfg.Builder == nil || cfg.Server == nil || cfg.Cache == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("service: builder, server, cache and registry are required")
	}
	s := &SnapshotService{
		builder:  cfg.Builder,
		server:   cfg.Server,
		cache:    cfg.Cache,
		reg:      cfg.Registry,
		planner:  cfg.Planner,
		branches: cfg.Branches,
		policy:   cfg.Policy,
		limiter:  cfg.Limiter,
		job:      cfg.Job,
		logger:   cfg.Logger,
	}
	switch s.policy {
	case "":
		s.policy = PolicyPermissive
	case PolicyPermissive, PolicyEnforce:
	default:
		return nil, fmt.Errorf("service: unknown access policy %q", cfg.Policy)
	}
	if s.planner == nil {
		s.planner = planner.New()
	}
	if s.limiter == nil {
		s.limiter = NewRebuildLimiter(0, 0)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Target is a partition request as received from a caller.
type Target struct {
	Zone      string
	Suffix    string
	Principal domain.Principal
}

// Resolve computes the effective partition key and branch of a request.
//
// A principal bound to a branch always gets its own branch, except when the
// common partition is asked for. Otherwise the suffix is looked up among
// the branches; the master and common suffixes never name a branch.
func (s *SnapshotService) Resolve(ctx context.Context, t Target) (domain.PartitionKey, domain.Branch, error) {
	suffix := t.Suffix
	var branch domain.Branch
	if !t.Principal.Branch.Empty() && t.Principal.Branch.Suffix != "" && suffix != domain.SuffixCommon {
		suffix = t.Principal.Branch.Suffix
		branch = t.Principal.Branch
	}
	key := domain.NewPartitionKey(t.Zone, suffix)
	if err := key.Validate(); err != nil {
		return key, branch, err
	}
	if branch.Empty() && s.branches != nil && !key.IsCommon() && !key.IsMaster() {
		found, ok, err := s.branches.BranchBySuffix(ctx, key.Suffix)
		if err != nil {
			return key, branch, err
		}
		if ok {
			branch = found
		}
	}
	return key, branch, nil
}

// authorize applies the access policy to an anonymous caller.
func (s *SnapshotService) authorize(key domain.PartitionKey, p domain.Principal, op string) error {
	if p.Authenticated || key.IsCommon() {
		return nil
	}
	if s.policy == PolicyEnforce {
		return domain.ErrAuthRequired.WithDetails(fmt.Sprintf("%s %s", op, key))
	}
	s.logger.Warn("anonymous access to branch data", "op", op, "zone", key.Zone, "suffix", key.Suffix)
	return nil
}

// RebuildRequest asks for one partition rebuild.
type RebuildRequest struct {
	Target
	Job map[string]any
}

// Rebuild rebuilds the requested partition. progress may be nil.
func (s *SnapshotService) Rebuild(ctx context.Context, req RebuildRequest, progress snapshot.Progress) (*snapshot.BuildResult, error) {
	key, branch, err := s.Resolve(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(key, req.Principal, "rebuild"); err != nil {
		return nil, err
	}
	if !key.IsCommon() && !key.IsMaster() && branch.Empty() {
		return nil, domain.ErrInvalidPartitionKey.WithDetails(fmt.Sprintf("suffix %q names no branch", key.Suffix))
	}
	if ok, wait := s.limiter.Allow(key.String()); !ok {
		return nil, domain.ErrRebuildThrottled.WithDetails(fmt.Sprintf("%s, retry in %s", key, wait.Round(time.Millisecond)))
	}

	job := maps.Clone(s.job)
	if job == nil {
		job = make(map[string]any, len(req.Job))
	}
	maps.Copy(job, req.Job)
	if progress == nil {
		progress = snapshot.ProgressFunc(func(domain.ClassName, domain.ManifestEntry) {})
	}

	s.logger.Info("rebuild requested", "zone", key.Zone, "suffix", key.Suffix,
		"user", req.Principal.User, "branch", branch.Ref)
	res, err := s.builder.Build(ctx, snapshot.BuildRequest{Key: key, Branch: branch, Job: job}, progress)
	if errors.Is(err, domain.ErrBranchNotFound) {
		return nil, domain.ErrInvalidPartitionKey.WithDetails(key.Suffix).WithCause(err)
	}
	return res, err
}

// Fetch opens the stream of a built partition. The caller must Close it.
func (s *SnapshotService) Fetch(ctx context.Context, t Target) (*snapshot.Stream, error) {
	key, _, err := s.Resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(key, t.Principal, "fetch"); err != nil {
		return nil, err
	}
	return s.server.Open(ctx, key)
}

// Manifest returns the manifest of a built partition. The common manifest
// lives in its own directory even though its data does not.
func (s *SnapshotService) Manifest(ctx context.Context, t Target) (domain.PartitionKey, domain.Manifest, error) {
	key, _, err := s.Resolve(ctx, t)
	if err != nil {
		return key, nil, err
	}
	if err := s.authorize(key, t.Principal, "manifest"); err != nil {
		return key, nil, err
	}
	dir, err := s.cache.Path(key.Zone, key.Suffix)
	if err != nil {
		return key, nil, err
	}
	m, err := partition.ReadManifest(dir)
	return key, m, err
}

// Descriptor describes the partition a target resolves to.
func (s *SnapshotService) Descriptor(ctx context.Context, t Target) (snapshot.Descriptor, error) {
	key, _, err := s.Resolve(ctx, t)
	if err != nil {
		return snapshot.Descriptor{}, err
	}
	return s.server.Descriptor(key), nil
}

// Plan returns the current load order of the registered classes.
func (s *SnapshotService) Plan() planner.Plan {
	return s.planner.Plan(s.reg)
}
