package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/mdmcache-go/internal/core/catalog"
	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/planner"
	"github.com/yndnr/mdmcache-go/internal/core/registry"
	"github.com/yndnr/mdmcache-go/internal/storage/partition"
)

// Kind tells which class subset a build writes.
type Kind string

const (
	// KindCommon writes the common classes into the master directory and
	// the manifest into the common directory.
	KindCommon Kind = "common"
	// KindMaster writes every non-common class into the master directory.
	KindMaster Kind = "master"
	// KindBranch writes the by-branch classes into the branch directory.
	KindBranch Kind = "branch"
)

// DefaultWorkers is the number of classes of one tier built concurrently.
const DefaultWorkers = 4

// BuildRequest describes one rebuild.
type BuildRequest struct {
	Key    domain.PartitionKey
	Branch domain.Branch
	Job    map[string]any
}

// Progress observes a running build. ClassBuilt is called once per class
// written, never concurrently.
type Progress interface {
	ClassBuilt(class domain.ClassName, entry domain.ManifestEntry)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(class domain.ClassName, entry domain.ManifestEntry)

// ClassBuilt implements Progress.
func (f ProgressFunc) ClassBuilt(class domain.ClassName, entry domain.ManifestEntry) {
	f(class, entry)
}

// BuildResult is the outcome of a committed build.
type BuildResult struct {
	Key      domain.PartitionKey
	Kind     Kind
	Manifest domain.Manifest
	// Built lists the classes written, in load order.
	Built []domain.ClassName
	// Failed lists classes whose records could not be filtered or exported.
	// Their previous file and manifest entry, if any, were kept.
	Failed   []domain.ClassName
	Duration time.Duration
}

// Metrics receives build and serve measurements.
type Metrics interface {
	BuildFinished(kind, result string, elapsed time.Duration)
	ClassFinished(result string, bytes int)
	StreamOpened()
	StreamClosed(result string, bytes int64)
}

type nopMetrics struct{}

func (nopMetrics) BuildFinished(string, string, time.Duration) {}
func (nopMetrics) ClassFinished(string, int)                   {}
func (nopMetrics) StreamOpened()                               {}
func (nopMetrics) StreamClosed(string, int64)                  {}

// BuilderConfig wires a Builder.
type BuilderConfig struct {
	Cache     *partition.Cache
	Registry  *registry.Registry
	Planner   *planner.Planner
	Catalog   *catalog.Catalog
	Predicate Predicate
	Checksum  Checksum
	Workers   int
	Metrics   Metrics
	Logger    *slog.Logger
}

// Builder writes partition snapshots. It holds no per-build state; each
// Build call works on its own job.
type Builder struct {
	cache     *partition.Cache
	reg       *registry.Registry
	planner   *planner.Planner
	catalog   *catalog.Catalog
	predicate Predicate
	checksum  Checksum
	workers   int
	metrics   Metrics
	logger    *slog.Logger
}

// NewBuilder creates a Builder. Cache and Registry are required.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Cache == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("snapshot: cache and registry are required")
	}
	b := &Builder{
		cache:     cfg.Cache,
		reg:       cfg.Registry,
		planner:   cfg.Planner,
		catalog:   cfg.Catalog,
		predicate: cfg.Predicate,
		checksum:  cfg.Checksum,
		workers:   cfg.Workers,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if b.planner == nil {
		b.planner = planner.New()
	}
	if b.catalog == nil {
		b.catalog = catalog.Default()
	}
	if b.predicate == nil {
		b.predicate, _ = NewBranchPredicate(nil)
	}
	if b.checksum == nil {
		b.checksum = crc32Sum
	}
	if b.workers <= 0 {
		b.workers = DefaultWorkers
	}
	if b.metrics == nil {
		b.metrics = nopMetrics{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b, nil
}

// KindOf returns the build kind for a request.
func KindOf(key domain.PartitionKey, branch domain.Branch) Kind {
	switch {
	case key.IsCommon():
		return KindCommon
	case !branch.Empty():
		return KindBranch
	default:
		return KindMaster
	}
}

// buildJob is the state of one build.
type buildJob struct {
	req      BuildRequest
	kind     Kind
	dataDir  string
	metaDir  string
	txn      *partition.Txn
	exporter *exporter
	previous domain.Manifest

	mu       sync.Mutex
	manifest domain.Manifest
	built    map[domain.ClassName]bool
	failed   []domain.ClassName
	progress Progress
}

// Build rebuilds one partition. Files are staged and published atomically
// when every tier succeeded; on I/O or upstream failure nothing is published.
func (b *Builder) Build(ctx context.Context, req BuildRequest, progress Progress) (*BuildResult, error) {
	start := time.Now()
	if req.Key.Suffix == "" {
		req.Key = domain.NewPartitionKey(req.Key.Zone, "")
	}
	if err := req.Key.Validate(); err != nil {
		return nil, err
	}

	kind := KindOf(req.Key, req.Branch)
	job := &buildJob{
		req:      req,
		kind:     kind,
		exporter: newExporter(b.reg),
		manifest: domain.Manifest{},
		built:    make(map[domain.ClassName]bool),
		progress: progress,
	}
	switch kind {
	case KindCommon:
		job.dataDir, job.metaDir = domain.SuffixMaster, domain.SuffixCommon
	case KindBranch:
		job.dataDir, job.metaDir = req.Key.Suffix, req.Key.Suffix
	default:
		if !req.Key.IsMaster() {
			return nil, domain.ErrBranchNotFound.WithDetails(req.Key.Suffix)
		}
		job.dataDir, job.metaDir = domain.SuffixMaster, domain.SuffixMaster
	}

	res, err := b.run(ctx, job)
	result := "ok"
	if err != nil {
		result = "error"
	} else if len(res.Failed) > 0 {
		result = "partial"
	}
	b.metrics.BuildFinished(string(kind), result, time.Since(start))
	if err != nil {
		b.logger.Error("partition build failed",
			"zone", req.Key.Zone, "suffix", req.Key.Suffix, "kind", kind, "error", err)
		return nil, err
	}
	res.Duration = time.Since(start)
	b.logger.Info("partition built",
		"zone", req.Key.Zone, "suffix", req.Key.Suffix, "kind", kind,
		"classes", len(res.Built), "failed", len(res.Failed), "elapsed", res.Duration)
	return res, nil
}

func (b *Builder) run(ctx context.Context, job *buildJob) (*BuildResult, error) {
	dirs := []string{job.dataDir}
	if job.metaDir != job.dataDir {
		dirs = append(dirs, job.metaDir)
	}
	txn, err := b.cache.Begin(ctx, job.req.Key.Zone, dirs...)
	if err != nil {
		return nil, err
	}
	job.txn = txn
	defer txn.Abort()

	job.previous, err = partition.ReadStagedManifest(txn, job.metaDir)
	if err != nil {
		return nil, err
	}

	plan := b.planner.Plan(b.reg)
	for _, tier := range plan.Tiers() {
		if err := b.buildTier(ctx, job, tier); err != nil {
			return nil, err
		}
	}

	if err := partition.WriteManifest(txn, job.metaDir, job.manifest); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}

	res := &BuildResult{
		Key:      job.req.Key,
		Kind:     job.kind,
		Manifest: job.manifest,
		Failed:   job.failed,
	}
	for _, name := range plan.Flatten() {
		if job.built[name] {
			res.Built = append(res.Built, name)
		}
	}
	return res, nil
}

// applies reports whether a class belongs to the build.
func (b *Builder) applies(job *buildJob, name domain.ClassName) bool {
	switch job.kind {
	case KindCommon:
		return b.catalog.IsCommon(name)
	case KindBranch:
		return b.catalog.IsByBranch(name)
	default:
		return !b.catalog.IsCommon(name)
	}
}

// buildTier builds the classes of one tier concurrently. Tiers themselves
// run strictly in order.
func (b *Builder) buildTier(ctx context.Context, job *buildJob, tier []domain.ClassName) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, name := range tier {
		if !b.applies(job, name) {
			continue
		}
		src, ok := b.reg.Resolve(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			return b.buildClass(gctx, job, name, src)
		})
	}
	return g.Wait()
}

type payload struct {
	Name string          `json:"name"`
	Rows []domain.Record `json:"rows"`
}

func (b *Builder) buildClass(ctx context.Context, job *buildJob, name domain.ClassName, src registry.Source) error {
	rows := make([]domain.Record, 0)
	err := src.Each(ctx, func(r domain.Record) error {
		keep, err := b.predicate.Include(ctx, Candidate{
			Record:   r,
			Class:    name,
			Zone:     job.req.Key.Zone,
			Branch:   job.req.Branch,
			ByBranch: b.catalog.IsByBranch(name),
			Job:      job.req.Job,
		})
		if err != nil {
			return asRecordError(name, r, err)
		}
		if !keep {
			return nil
		}
		out, err := job.exporter.export(ctx, name, r)
		if err != nil {
			return err
		}
		rows = append(rows, out)
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrRecordRejected) {
			job.classFailed(name, err, b.logger)
			b.metrics.ClassFinished("failed", 0)
			return nil
		}
		return err
	}

	data, err := encodePayload(name, rows)
	if err != nil {
		job.classFailed(name, domain.ErrRecordRejected.Wrap(err), b.logger)
		b.metrics.ClassFinished("failed", 0)
		return nil
	}
	if err := job.txn.WriteFile(job.dataDir, name.FileName(), data); err != nil {
		return err
	}

	entry := domain.ManifestEntry{
		Count:    len(rows),
		Size:     int64(len(data)),
		Checksum: b.checksum(data),
	}
	b.metrics.ClassFinished("ok", len(data))
	job.classBuilt(name, entry)
	return nil
}

func (j *buildJob) classBuilt(name domain.ClassName, entry domain.ManifestEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.manifest[name] = entry
	j.built[name] = true
	if j.progress != nil {
		j.progress.ClassBuilt(name, entry)
	}
}

// classFailed keeps the previous entry of a class whose records were
// rejected. Its previous file is still in the staged directory.
func (j *buildJob) classFailed(name domain.ClassName, err error, logger *slog.Logger) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failed = append(j.failed, name)
	if prev, ok := j.previous[name]; ok {
		j.manifest[name] = prev
	}
	logger.Warn("class skipped, previous snapshot kept",
		"zone", j.req.Key.Zone, "suffix", j.req.Key.Suffix, "class", name, "error", err)
}

// asRecordError marks predicate failures as record-level errors.
func asRecordError(name domain.ClassName, r domain.Record, err error) error {
	if errors.Is(err, domain.ErrRecordRejected) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.ErrRecordRejected.WithDetails(fmt.Sprintf("%s %s", name, r.Ref())).Wrap(err)
}

// encodePayload serializes a class payload the way clients parse it:
// one JSON object, HTML characters unescaped, terminated by CRLF.
func encodePayload(name domain.ClassName, rows []domain.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload{Name: string(name), Rows: rows}); err != nil {
		return nil, err
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return append(data, '\r', '\n'), nil
}
