package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/yndnr/mdmcache-go/internal/core/catalog"
	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/registry"
	"github.com/yndnr/mdmcache-go/internal/core/snapshot"
	"github.com/yndnr/mdmcache-go/internal/storage/memory"
	"github.com/yndnr/mdmcache-go/internal/storage/partition"
)

type testEnv struct {
	store *memory.Store
	cache *partition.Cache
	svc   *SnapshotService
}

func newTestEnv(t *testing.T, mutate func(*SnapshotServiceConfig)) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	seed := map[domain.ClassName][]domain.Record{
		"cat.branches": {
			{"ref": "b1", "suffix": "0001", "name": "North"},
			{"ref": "b2", "suffix": "0002", "name": "South"},
		},
		"cat.nom":   {{"ref": "n1", "name": "Profile"}},
		"cat.users": {{"ref": "usr1", "name": "alice"}},
		"cat.partners": {
			{"ref": "c1", "branch": "b1"},
			{"ref": "c2", "branch": "b2"},
		},
	}
	for class, recs := range seed {
		if _, err := store.PutMany(ctx, class, recs); err != nil {
			t.Fatalf("seed %s: %v", class, err)
		}
	}

	reg := registry.New()
	for _, name := range []domain.ClassName{"cat.branches", "cat.nom", "cat.users", "cat.partners"} {
		if err := reg.Register(name, registry.NewStoreSource(name, store)); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	cat, err := catalog.New([]domain.ClassName{"cat.nom"}, []domain.ClassName{"cat.branches", "cat.partners"})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	cache, err := partition.New(partition.Config{Root: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("partition.New: %v", err)
	}
	builder, err := snapshot.NewBuilder(snapshot.BuilderConfig{Cache: cache, Registry: reg, Catalog: cat})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	server, err := snapshot.NewServer(snapshot.ServerConfig{Cache: cache, Registry: reg, Catalog: cat})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	cfg := SnapshotServiceConfig{
		Builder:  builder,
		Server:   server,
		Cache:    cache,
		Registry: reg,
		Branches: StoreBranches{Scanner: store},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewSnapshotService(cfg)
	if err != nil {
		t.Fatalf("NewSnapshotService: %v", err)
	}
	return &testEnv{store: store, cache: cache, svc: svc}
}

var north = domain.Branch{Ref: "b1", Suffix: "0001", Name: "North"}

func TestResolve(t *testing.T) {
	env := newTestEnv(t, nil)
	member := domain.Principal{User: "alice", Authenticated: true, Branch: north}

	tests := []struct {
		name       string
		target     Target
		wantSuffix string
		wantBranch string
	}{
		{"empty suffix is master", Target{Zone: "21"}, "0000", ""},
		{"suffix names a branch", Target{Zone: "21", Suffix: "0002"}, "0002", "b2"},
		{"unknown suffix keeps an empty branch", Target{Zone: "21", Suffix: "0099"}, "0099", ""},
		{"common is never a branch", Target{Zone: "21", Suffix: "common"}, "common", ""},
		{"principal branch wins", Target{Zone: "21", Suffix: "0002", Principal: member}, "0001", "b1"},
		{"principal branch over master", Target{Zone: "21", Principal: member}, "0001", "b1"},
		{"principal asking for common", Target{Zone: "21", Suffix: "common", Principal: member}, "common", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, branch, err := env.svc.Resolve(context.Background(), tt.target)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if key.Suffix != tt.wantSuffix {
				t.Errorf("suffix = %q, want %q", key.Suffix, tt.wantSuffix)
			}
			if branch.Ref != tt.wantBranch && !(tt.wantBranch == "" && branch.Empty()) {
				t.Errorf("branch = %q, want %q", branch.Ref, tt.wantBranch)
			}
		})
	}
}

func TestResolve_InvalidKey(t *testing.T) {
	env := newTestEnv(t, nil)
	_, _, err := env.svc.Resolve(context.Background(), Target{Zone: "../etc", Suffix: "0001"})
	if !errors.Is(err, domain.ErrInvalidPartitionKey) {
		t.Errorf("Resolve error = %v, want ErrInvalidPartitionKey", err)
	}
}

func TestRebuild_UnknownSuffixIsValidationFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.Rebuild(context.Background(), RebuildRequest{Target: Target{Zone: "21", Suffix: "0099"}}, nil)
	if !errors.Is(err, domain.ErrInvalidPartitionKey) {
		t.Fatalf("Rebuild error = %v, want ErrInvalidPartitionKey", err)
	}
	if env.cache.Exists("21", "0099") {
		t.Error("failed rebuild must not create the directory")
	}
}

func TestRebuildThenFetch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, suffix := range []string{"", "0001"} {
		if _, err := env.svc.Rebuild(ctx, RebuildRequest{Target: Target{Zone: "21", Suffix: suffix}}, nil); err != nil {
			t.Fatalf("Rebuild(%q): %v", suffix, err)
		}
	}

	st, err := env.svc.Fetch(ctx, Target{Zone: "21", Suffix: "0001"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer st.Close()
	var buf bytes.Buffer
	if _, err := st.Copy(ctx, &buf); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	payloads, err := snapshot.Split(&buf)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	key, manifest, err := env.svc.Manifest(ctx, Target{Zone: "21", Suffix: "0001"})
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if key.Suffix != "0001" {
		t.Errorf("manifest key = %s", key)
	}
	if err := snapshot.Verify(payloads, manifest, nil); err != nil {
		t.Errorf("Verify: %v", err)
	}
	for _, p := range payloads {
		if p.Name == "cat.partners" && len(p.Rows) != 1 {
			t.Errorf("branch partners = %d rows, want 1", len(p.Rows))
		}
	}
}

func TestFetch_UnbuiltIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.Fetch(context.Background(), Target{Zone: "21", Suffix: "0002"})
	if !errors.Is(err, domain.ErrPartitionNotFound) {
		t.Errorf("Fetch error = %v, want ErrPartitionNotFound", err)
	}
	if _, _, err := env.svc.Manifest(context.Background(), Target{Zone: "21"}); !errors.Is(err, domain.ErrPartitionNotFound) {
		t.Errorf("Manifest error = %v, want ErrPartitionNotFound", err)
	}
}

func TestCommonManifestLivesInCommonDir(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.svc.Rebuild(ctx, RebuildRequest{Target: Target{Zone: "21", Suffix: "common"}}, nil); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	_, m, err := env.svc.Manifest(ctx, Target{Zone: "21", Suffix: "common"})
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if _, ok := m["cat.nom"]; !ok || len(m) != 1 {
		t.Errorf("common manifest = %v, want only cat.nom", m.Classes())
	}
}

func TestEnforcePolicy(t *testing.T) {
	env := newTestEnv(t, func(cfg *SnapshotServiceConfig) { cfg.Policy = PolicyEnforce })
	ctx := context.Background()

	if _, err := env.svc.Rebuild(ctx, RebuildRequest{Target: Target{Zone: "21", Suffix: "common"}}, nil); err != nil {
		t.Fatalf("anonymous common rebuild: %v", err)
	}
	st, err := env.svc.Fetch(ctx, Target{Zone: "21", Suffix: "common"})
	if err != nil {
		t.Fatalf("anonymous common fetch: %v", err)
	}
	st.Close()
	if _, err := env.svc.Fetch(ctx, Target{Zone: "21", Suffix: "0001"}); !errors.Is(err, domain.ErrAuthRequired) {
		t.Errorf("anonymous branch fetch = %v, want ErrAuthRequired", err)
	}
	member := domain.Principal{User: "alice", Authenticated: true, Branch: north}
	if _, err := env.svc.Rebuild(ctx, RebuildRequest{Target: Target{Zone: "21", Principal: member}}, nil); err != nil {
		t.Errorf("authenticated branch rebuild: %v", err)
	}
}

func TestRebuildThrottle(t *testing.T) {
	env := newTestEnv(t, func(cfg *SnapshotServiceConfig) { cfg.Limiter = NewRebuildLimiter(1, 1) })
	ctx := context.Background()
	req := RebuildRequest{Target: Target{Zone: "21"}}

	if _, err := env.svc.Rebuild(ctx, req, nil); err != nil {
		t.Fatalf("first Rebuild: %v", err)
	}
	if _, err := env.svc.Rebuild(ctx, req, nil); !errors.Is(err, domain.ErrRebuildThrottled) {
		t.Errorf("second Rebuild = %v, want ErrRebuildThrottled", err)
	}
	// Other partitions have their own bucket.
	other := RebuildRequest{Target: Target{Zone: "21", Suffix: "0001"}}
	if _, err := env.svc.Rebuild(ctx, other, nil); err != nil {
		t.Errorf("other partition Rebuild: %v", err)
	}
}

func TestRebuildReportsProgress(t *testing.T) {
	env := newTestEnv(t, nil)
	var got []domain.ClassName
	progress := snapshot.ProgressFunc(func(c domain.ClassName, _ domain.ManifestEntry) { got = append(got, c) })

	res, err := env.svc.Rebuild(context.Background(), RebuildRequest{Target: Target{Zone: "21"}}, progress)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if len(got) != len(res.Built) {
		t.Errorf("progress saw %d classes, result built %d", len(got), len(res.Built))
	}
}

func TestNewSnapshotService_Validation(t *testing.T) {
	if _, err := NewSnapshotService(SnapshotServiceConfig{}); err == nil {
		t.Error("missing collaborators should fail")
	}
	env := newTestEnv(t, nil)
	_, err := NewSnapshotService(SnapshotServiceConfig{
		Builder:  env.svc.builder,
		Server:   env.svc.server,
		Cache:    env.cache,
		Registry: env.svc.reg,
		Policy:   "open",
	})
	if err == nil {
		t.Error("unknown policy should fail")
	}
}

func TestPlan(t *testing.T) {
	env := newTestEnv(t, nil)
	plan := env.svc.Plan()
	if tier, ok := plan.TierOf("cat.users"); !ok || tier != domain.TierUsers {
		t.Errorf("cat.users tier = %v, %v", tier, ok)
	}
	if !plan.Contains("cat.partners") {
		t.Error("plan should contain cat.partners")
	}
}
