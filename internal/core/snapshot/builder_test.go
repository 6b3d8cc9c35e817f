package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/yndnr/mdmcache-go/internal/core/catalog"
	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/registry"
	"github.com/yndnr/mdmcache-go/internal/storage/partition"
)

// memScanner serves fixed records per class.
type memScanner struct {
	mu      sync.Mutex
	records map[domain.ClassName][]domain.Record
	fail    map[domain.ClassName]error
}

func (s *memScanner) Scan(ctx context.Context, class domain.ClassName, fn func(domain.Record) error) error {
	s.mu.Lock()
	rows := s.records[class]
	err := s.fail[class]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

type fixture struct {
	cache   *partition.Cache
	reg     *registry.Registry
	catalog *catalog.Catalog
	scanner *memScanner
	builder *Builder
	server  *Server
}

// newExampleFixture registers cat.nom, cat.users and cat.partners with
// cat.nom common and cat.partners by-branch.
func newExampleFixture(t *testing.T, opts ...func(*BuilderConfig)) *fixture {
	t.Helper()
	cache, err := partition.New(partition.Config{Root: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("partition.New: %v", err)
	}
	cat, err := catalog.New(
		[]domain.ClassName{"cat.nom"},
		[]domain.ClassName{"cat.partners"},
	)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	sc := &memScanner{
		records: map[domain.ClassName][]domain.Record{
			"cat.nom": {
				{"ref": "n1", "name": "Profile"},
				{"ref": "n2", "name": "Glass"},
			},
			"cat.nom_units": {
				{"ref": "u1", "owner": "n1", "name": "m"},
				{"ref": "u2", "owner": "n1", "name": "pcs"},
			},
			"cat.users": {
				{"ref": "usr1", "name": "alice", "individual_person": "p1"},
				{"ref": "usr2", "name": "bob", "individual_person": domain.ZeroRef},
			},
			"cat.individuals": {
				{"ref": "p1", "name": "Alice A."},
			},
			"cat.partners": {
				{"ref": "c1", "name": "North Ltd", "branch": "b1"},
				{"ref": "c2", "name": "South Ltd", "branch": "b2"},
				{"ref": "c3", "name": "Gone Ltd", "branch": "b1", "_deleted": true},
			},
		},
		fail: map[domain.ClassName]error{},
	}
	reg := registry.New()
	for _, name := range []domain.ClassName{"cat.nom", "cat.nom_units", "cat.users", "cat.individuals", "cat.partners"} {
		if err := reg.Register(name, registry.NewStoreSource(name, sc)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	cfg := BuilderConfig{Cache: cache, Registry: reg, Catalog: cat, Workers: 2}
	for _, opt := range opts {
		opt(&cfg)
	}
	b, err := NewBuilder(cfg)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	s, err := NewServer(ServerConfig{Cache: cache, Registry: reg, Catalog: cat})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &fixture{cache: cache, reg: reg, catalog: cat, scanner: sc, builder: b, server: s}
}

var branchB1 = domain.Branch{Ref: "b1", Suffix: "0001", Name: "North"}

func (f *fixture) build(t *testing.T, suffix string, branch domain.Branch) *BuildResult {
	t.Helper()
	res, err := f.builder.Build(context.Background(), BuildRequest{
		Key:    domain.NewPartitionKey("21", suffix),
		Branch: branch,
	}, nil)
	if err != nil {
		t.Fatalf("Build(%q): %v", suffix, err)
	}
	return res
}

func (f *fixture) files(t *testing.T, dir string) []string {
	t.Helper()
	path, err := f.cache.Path("21", dir)
	if err != nil {
		t.Fatalf("Path(%s): %v", dir, err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuild_BranchWritesOnlyByBranchClasses(t *testing.T) {
	f := newExampleFixture(t)
	res := f.build(t, "0001", branchB1)

	if res.Kind != KindBranch {
		t.Errorf("Kind = %s, want branch", res.Kind)
	}
	want := []string{"cat.partners.json", "manifest.json"}
	if got := f.files(t, "0001"); !equalStrings(got, want) {
		t.Errorf("branch files = %v, want %v", got, want)
	}
	if f.cache.Exists("21", "0000") {
		t.Error("branch build must not publish the master directory")
	}
	if entry := res.Manifest["cat.partners"]; entry.Count != 1 {
		t.Errorf("cat.partners count = %d, want 1 (branch b1, not deleted)", entry.Count)
	}
}

func TestBuild_CommonWritesOnlyCommonClasses(t *testing.T) {
	f := newExampleFixture(t)
	res := f.build(t, "common", domain.Branch{})

	if res.Kind != KindCommon {
		t.Errorf("Kind = %s, want common", res.Kind)
	}
	if got := f.files(t, "0000"); !equalStrings(got, []string{"cat.nom.json"}) {
		t.Errorf("master files = %v, want only cat.nom.json", got)
	}
	if got := f.files(t, "common"); !equalStrings(got, []string{"manifest.json"}) {
		t.Errorf("common files = %v, want only manifest.json", got)
	}
	if got := res.Manifest.Classes(); len(got) != 1 || got[0] != "cat.nom" {
		t.Errorf("manifest classes = %v", got)
	}
}

func TestBuild_MasterWritesNonCommonClasses(t *testing.T) {
	f := newExampleFixture(t)
	f.build(t, "common", domain.Branch{})
	res := f.build(t, "", domain.Branch{})

	if res.Kind != KindMaster {
		t.Errorf("Kind = %s, want master", res.Kind)
	}
	// The common class written earlier stays next to the master classes.
	want := []string{"cat.nom.json", "cat.partners.json", "cat.users.json", "manifest.json"}
	if got := f.files(t, "0000"); !equalStrings(got, want) {
		t.Errorf("master files = %v, want %v", got, want)
	}
	if _, ok := res.Manifest["cat.nom"]; ok {
		t.Error("master manifest must not list common classes")
	}
	if entry := res.Manifest["cat.partners"]; entry.Count != 2 {
		t.Errorf("master cat.partners count = %d, want 2", entry.Count)
	}
}

func TestBuild_ManifestMatchesFiles(t *testing.T) {
	f := newExampleFixture(t)
	res := f.build(t, "", domain.Branch{})

	dir, _ := f.cache.Path("21", "0000")
	for name, entry := range res.Manifest {
		data, err := os.ReadFile(filepath.Join(dir, name.FileName()))
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", name, err)
		}
		if entry.Size != int64(len(data)) {
			t.Errorf("%s size = %d, file has %d bytes", name, entry.Size, len(data))
		}
		if entry.Checksum != crc32Sum(data) {
			t.Errorf("%s checksum mismatch", name)
		}
	}

	stored, err := partition.ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(stored) != len(res.Manifest) {
		t.Errorf("stored manifest has %d entries, want %d", len(stored), len(res.Manifest))
	}
}

func TestBuild_ExportInlinesRelatedRecords(t *testing.T) {
	f := newExampleFixture(t)
	f.build(t, "common", domain.Branch{})
	f.build(t, "", domain.Branch{})

	payloads := fetchPayloads(t, f, "0000")
	byName := make(map[domain.ClassName]Payload)
	for _, p := range payloads {
		byName[p.Name] = p
	}

	users := decodeRows(t, byName["cat.users"])
	if users[0]["person"] == nil {
		t.Error("user with individual_person should inline the person")
	}
	if _, ok := users[1]["person"]; ok {
		t.Error("user with an empty individual_person must not carry a person")
	}

	common := fetchPayloads(t, f, "common")
	nom := decodeRows(t, common[0])
	units, _ := nom[0]["units"].([]any)
	if len(units) != 2 {
		t.Errorf("n1 units = %v, want 2", nom[0]["units"])
	}
	if units, _ := nom[1]["units"].([]any); len(units) != 0 {
		t.Errorf("n2 units = %v, want empty", nom[1]["units"])
	}
}

func TestBuild_ProgressReportsEveryClass(t *testing.T) {
	f := newExampleFixture(t)
	var got []domain.ClassName
	res, err := f.builder.Build(context.Background(), BuildRequest{Key: domain.NewPartitionKey("21", "")},
		ProgressFunc(func(class domain.ClassName, _ domain.ManifestEntry) {
			got = append(got, class)
		}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(got) != len(res.Built) {
		t.Errorf("progress reported %v, built %v", got, res.Built)
	}
}

func TestBuild_RecordErrorKeepsPreviousClass(t *testing.T) {
	f := newExampleFixture(t)
	first := f.build(t, "", domain.Branch{})

	reject := PredicateFunc(func(_ context.Context, c Candidate) (bool, error) {
		if c.Class == "cat.partners" {
			return false, errors.New("broken filter")
		}
		return true, nil
	})
	f.builder.predicate = reject
	f.scanner.records["cat.partners"] = append(f.scanner.records["cat.partners"], domain.Record{"ref": "c9"})

	second := f.build(t, "", domain.Branch{})
	if len(second.Failed) != 1 || second.Failed[0] != "cat.partners" {
		t.Fatalf("Failed = %v, want [cat.partners]", second.Failed)
	}
	if second.Manifest["cat.partners"] != first.Manifest["cat.partners"] {
		t.Errorf("cat.partners entry = %+v, want previous %+v",
			second.Manifest["cat.partners"], first.Manifest["cat.partners"])
	}
	if _, ok := second.Manifest["cat.users"]; !ok {
		t.Error("other classes must still be built")
	}
}

func TestBuild_UpstreamFailurePublishesNothing(t *testing.T) {
	f := newExampleFixture(t)
	first := f.build(t, "", domain.Branch{})
	before, _ := f.cache.Path("21", "0000")

	f.scanner.fail["cat.users"] = errors.New("connection refused")
	_, err := f.builder.Build(context.Background(), BuildRequest{Key: domain.NewPartitionKey("21", "")}, nil)
	if !errors.Is(err, domain.ErrUpstreamFailure) {
		t.Fatalf("Build error = %v, want ErrUpstreamFailure", err)
	}

	after, _ := f.cache.Path("21", "0000")
	if before != after {
		t.Errorf("failed build replaced version %s with %s", before, after)
	}
	stored, err := partition.ReadManifest(after)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if stored["cat.users"] != first.Manifest["cat.users"] {
		t.Error("manifest changed after a failed build")
	}
}

func TestBuild_DerivedSourceFailureIsFatal(t *testing.T) {
	f := newExampleFixture(t)
	err := f.reg.Register("cat.formulas", registry.NewDerivedSource("ram", func(context.Context) ([]domain.Record, error) {
		return nil, errors.New("secondary collection offline")
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err = f.builder.Build(context.Background(), BuildRequest{Key: domain.NewPartitionKey("21", "")}, nil)
	if !errors.Is(err, domain.ErrUpstreamFailure) {
		t.Fatalf("Build error = %v, want ErrUpstreamFailure", err)
	}
	if f.cache.Exists("21", "0000") {
		t.Error("nothing may be published after a fatal failure")
	}
}

func TestBuild_UnknownBranchSuffix(t *testing.T) {
	f := newExampleFixture(t)
	_, err := f.builder.Build(context.Background(), BuildRequest{Key: domain.NewPartitionKey("21", "0042")}, nil)
	if !errors.Is(err, domain.ErrBranchNotFound) {
		t.Fatalf("Build error = %v, want ErrBranchNotFound", err)
	}
}

func TestBuild_ConcurrentDistinctPartitions(t *testing.T) {
	f := newExampleFixture(t)
	f.build(t, "", domain.Branch{})

	branches := []domain.Branch{
		{Ref: "b1", Suffix: "0001"},
		{Ref: "b2", Suffix: "0002"},
		{Ref: "b3", Suffix: "0003"},
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(branches))
	for _, b := range branches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.builder.Build(context.Background(), BuildRequest{
				Key:    domain.NewPartitionKey("21", b.Suffix),
				Branch: b,
			}, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Build: %v", err)
		}
	}
	for _, b := range branches {
		if !f.cache.Exists("21", b.Suffix) {
			t.Errorf("partition %s not published", b.Suffix)
		}
	}
}

func TestEncodePayload(t *testing.T) {
	data, err := encodePayload("cat.clrs", []domain.Record{{"ref": "a", "name": "<b>&"}})
	if err != nil {
		t.Fatalf("encodePayload: %v", err)
	}
	want := `{"name":"cat.clrs","rows":[{"name":"<b>&","ref":"a"}]}` + "\r\n"
	if string(data) != want {
		t.Errorf("payload = %q, want %q", data, want)
	}

	empty, _ := encodePayload("cat.clrs", []domain.Record{})
	if string(empty) != `{"name":"cat.clrs","rows":[]}`+"\r\n" {
		t.Errorf("empty payload = %q", empty)
	}
}
