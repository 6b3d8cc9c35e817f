package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"

	"github.com/yndnr/mdmcache-go/internal/core/catalog"
	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/planner"
	"github.com/yndnr/mdmcache-go/internal/core/registry"
	"github.com/yndnr/mdmcache-go/internal/core/service"
	"github.com/yndnr/mdmcache-go/internal/core/snapshot"
	"github.com/yndnr/mdmcache-go/internal/server/config"
	"github.com/yndnr/mdmcache-go/internal/server/httpserver"
	"github.com/yndnr/mdmcache-go/internal/server/httpserver/handler"
	"github.com/yndnr/mdmcache-go/internal/storage/docstore"
	"github.com/yndnr/mdmcache-go/internal/storage/memory"
	"github.com/yndnr/mdmcache-go/internal/storage/partition"
	"github.com/yndnr/mdmcache-go/internal/telemetry/metric"
)

// app holds the wired components.
type app struct {
	router http.Handler
	store  docstore.Store
}

func (a *app) close() error {
	return a.store.Close()
}

// wire builds every component from the configuration.
func wire(cfg *config.ServerConfig, log *slog.Logger) (*app, error) {
	metrics := metric.NewRegistry()

	store, err := openStore(cfg.Storage, metrics, log)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a := &app{store: store}

	router, err := wireRouter(cfg, store, metrics, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.router = router
	return a, nil
}

func wireRouter(cfg *config.ServerConfig, store docstore.Store, metrics *metric.Registry, log *slog.Logger) (http.Handler, error) {
	reg, err := buildRegistry(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}
	cat, err := buildCatalog(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	plan, err := buildPlanner(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("init planner: %w", err)
	}
	predicate, err := snapshot.NewBranchPredicate(classMap(cfg.Build.Filters))
	if err != nil {
		return nil, fmt.Errorf("init filters: %w", err)
	}
	checksum, err := snapshot.NewChecksum(cfg.Build.Checksum)
	if err != nil {
		return nil, err
	}
	cache, err := partition.New(partition.Config{
		Root:         cfg.Cache.Root,
		KeepVersions: cfg.Cache.KeepVersions,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	builder, err := snapshot.NewBuilder(snapshot.BuilderConfig{
		Cache:     cache,
		Registry:  reg,
		Planner:   plan,
		Catalog:   cat,
		Predicate: predicate,
		Checksum:  checksum,
		Workers:   cfg.Build.Workers,
		Metrics:   metrics,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	server, err := snapshot.NewServer(snapshot.ServerConfig{
		Cache:    cache,
		Registry: reg,
		Planner:  plan,
		Catalog:  cat,
		Metrics:  metrics,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	branches := service.StoreBranches{Scanner: store}
	sec := cfg.Security
	snapshots, err := service.NewSnapshotService(service.SnapshotServiceConfig{
		Builder:  builder,
		Server:   server,
		Cache:    cache,
		Registry: reg,
		Planner:  plan,
		Branches: branches,
		Policy:   service.AccessPolicy(sec.BranchAccess),
		Limiter:  service.NewRebuildLimiter(sec.RebuildPerMinute, sec.RebuildBurst),
		Job:      cfg.Build.Job,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	creds := make([]service.Credential, 0, len(sec.Tokens))
	for _, t := range sec.Tokens {
		creds = append(creds, service.Credential{User: t.User, Hash: t.Hash, Suffix: t.Suffix})
	}

	return httpserver.NewRouter(&httpserver.RouterConfig{
		Handler: handler.Config{
			Snapshots: snapshots,
			Records:   store,
			Ready:     readiness(cache, store),
			Logger:    log,
		},
		Authenticator:      service.NewAuthenticator(creds, branches, log),
		Metrics:            metrics,
		MetricsHandler:     metrics.Handler(),
		AdminUsers:         sec.AdminUsers,
		AdminAllowList:     sec.AdminAllowList,
		CORSAllowedOrigins: cfg.Server.HTTP.CORSOrigins,
		RateLimit:          cfg.Server.HTTP.RateLimit,
		Logger:             log,
	})
}

func openStore(cfg config.StorageSection, metrics *metric.Registry, log *slog.Logger) (docstore.Store, error) {
	switch cfg.Engine {
	case "memory":
		log.Warn("using the in-memory document store, records are lost on restart")
		return memory.New(), nil
	default:
		bcfg := docstore.DefaultBadgerConfig(cfg.DataDir)
		if cfg.GCInterval > 0 {
			bcfg.GCInterval = cfg.GCInterval
		}
		bcfg.SyncWrites = cfg.SyncWrites
		db, err := docstore.OpenBadger(bcfg, log)
		if err != nil {
			return nil, err
		}
		return db.RegisterMetrics(metrics.Registerer()), nil
	}
}

// buildRegistry registers the catalog classes in enumeration order. Classes
// of the secondary collection become derived sources.
func buildRegistry(cfg *config.ServerConfig, store docstore.Store) (*registry.Registry, error) {
	sec := cfg.Sources.Secondary
	var fetcher docstore.Fetcher = docstore.StoreFetcher{Store: store, Collection: sec.Collection}
	if sec.URL != "" {
		couch, err := docstore.NewCouchCollection(docstore.CouchConfig{
			URL:      sec.URL,
			User:     sec.User,
			Password: sec.Password,
			Timeout:  sec.Timeout,
		})
		if err != nil {
			return nil, err
		}
		fetcher = couch
	}

	classes := slices.Clone(catalog.DefaultClasses)
	if len(cfg.Catalog.Classes) > 0 {
		classes = classNames(cfg.Catalog.Classes)
	}
	derived := classNames(sec.Classes)
	for _, name := range derived {
		if !slices.Contains(classes, name) {
			classes = append(classes, name)
		}
	}

	reg := registry.New()
	for _, name := range classes {
		var src registry.Source
		if slices.Contains(derived, name) {
			src = registry.NewDerivedSource(sec.Collection, func(ctx context.Context) ([]domain.Record, error) {
				return fetcher.Fetch(ctx, name)
			})
		} else {
			src = registry.NewStoreSource(name, store)
		}
		if err := reg.Register(name, src); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildCatalog(cfg config.CatalogSection) (*catalog.Catalog, error) {
	if len(cfg.Common) == 0 && len(cfg.ByBranch) == 0 {
		return catalog.Default(), nil
	}
	common := catalog.DefaultCommon
	if len(cfg.Common) > 0 {
		common = classNames(cfg.Common)
	}
	byBranch := catalog.DefaultByBranch
	if len(cfg.ByBranch) > 0 {
		byBranch = classNames(cfg.ByBranch)
	}
	return catalog.New(common, byBranch)
}

func buildPlanner(cfg config.CatalogSection) (*planner.Planner, error) {
	var opts []planner.Option
	if len(cfg.Classification) > 0 {
		table := make(map[domain.ClassName]domain.Tier, len(cfg.Classification))
		for class, name := range cfg.Classification {
			tier, ok := domain.ParseTier(name)
			if !ok {
				return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown tier %q for %s", name, class))
			}
			table[domain.ClassName(class)] = tier
		}
		opts = append(opts, planner.WithClassification(table))
	}
	if len(cfg.Excluded) > 0 {
		opts = append(opts, planner.WithExcluded(classNames(cfg.Excluded)...))
	}
	return planner.New(opts...), nil
}

// readiness reports whether the cache root and the store are usable.
func readiness(cache *partition.Cache, store docstore.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		if _, err := os.Stat(cache.Root()); err != nil {
			return fmt.Errorf("cache root: %w", err)
		}
		if _, err := store.Count(ctx, service.BranchClass); err != nil {
			return fmt.Errorf("document store: %w", err)
		}
		return nil
	}
}

func classNames(in []string) []domain.ClassName {
	out := make([]domain.ClassName, len(in))
	for i, s := range in {
		out[i] = domain.ClassName(s)
	}
	return out
}

func classMap(in map[string]string) map[domain.ClassName]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[domain.ClassName]string, len(in))
	for k, v := range in {
		out[domain.ClassName(k)] = v
	}
	return out
}
