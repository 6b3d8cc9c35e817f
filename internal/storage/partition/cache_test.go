package partition

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

func newTestCache(t *testing.T, keep int) *Cache {
	t.Helper()
	c, err := New(Config{Root: t.TempDir(), KeepVersions: keep}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func publish(t *testing.T, c *Cache, zone, dir string, files map[string]string) {
	t.Helper()
	txn, err := c.Begin(context.Background(), zone, dir)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for name, data := range files {
		if err := txn.WriteFile(dir, name, []byte(data)); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCache_PathNotFoundCreatesNothing(t *testing.T) {
	c := newTestCache(t, 0)

	_, err := c.Resolve(domain.NewPartitionKey("Z", "9999"))
	if !errors.Is(err, domain.ErrPartitionNotFound) {
		t.Fatalf("Resolve error = %v, want ErrPartitionNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(c.Root(), "Z")); !os.IsNotExist(err) {
		t.Fatalf("zone directory should not exist, stat err = %v", err)
	}
}

func TestCache_ResolveRejectsTraversal(t *testing.T) {
	c := newTestCache(t, 0)
	_, err := c.Resolve(domain.PartitionKey{Zone: "..", Suffix: "0000"})
	if !errors.Is(err, domain.ErrInvalidPartitionKey) {
		t.Fatalf("error = %v, want ErrInvalidPartitionKey", err)
	}
}

func TestTxn_CommitPublishes(t *testing.T) {
	c := newTestCache(t, 0)
	publish(t, c, "21", "0010", map[string]string{"cat.partners.json": "p1"})

	dir, err := c.Resolve(domain.NewPartitionKey("21", "0010"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "cat.partners.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "p1" {
		t.Errorf("content = %q, want p1", data)
	}

	st, err := os.Lstat(filepath.Join(c.Root(), "21", "0010"))
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}
	if st.Mode()&os.ModeSymlink == 0 {
		t.Error("partition directory should be a symlink")
	}
}

func TestTxn_StagedWritesInvisibleUntilCommit(t *testing.T) {
	c := newTestCache(t, 0)
	publish(t, c, "21", "0000", map[string]string{"cat.nom.json": "old"})

	txn, err := c.Begin(context.Background(), "21", "0000")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := txn.WriteFile("0000", "cat.nom.json", []byte("new")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// A reader resolving before the commit keeps its version.
	before, _ := c.Path("21", "0000")
	if data, _ := os.ReadFile(filepath.Join(before, "cat.nom.json")); string(data) != "old" {
		t.Fatalf("reader saw %q before commit", data)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if data, _ := os.ReadFile(filepath.Join(before, "cat.nom.json")); string(data) != "old" {
		t.Errorf("resolved old version changed to %q", data)
	}
	after, _ := c.Path("21", "0000")
	if data, _ := os.ReadFile(filepath.Join(after, "cat.nom.json")); string(data) != "new" {
		t.Errorf("new version = %q, want new", data)
	}
}

func TestTxn_SeedsFromCurrentVersion(t *testing.T) {
	c := newTestCache(t, 0)
	publish(t, c, "21", "0000", map[string]string{"cat.clrs.json": "common"})
	publish(t, c, "21", "0000", map[string]string{"cat.nom.json": "master"})

	dir, _ := c.Path("21", "0000")
	for name, want := range map[string]string{"cat.clrs.json": "common", "cat.nom.json": "master"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", name, err)
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", name, data, want)
		}
	}
}

func TestTxn_AbortDiscards(t *testing.T) {
	c := newTestCache(t, 0)

	txn, err := c.Begin(context.Background(), "21", "0010")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := txn.WriteFile("0010", "cat.partners.json", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	txn.Abort()

	if c.Exists("21", "0010") {
		t.Error("aborted partition must not be published")
	}
	versions, _ := c.Versions("21", "0010")
	if len(versions) != 0 {
		t.Errorf("versions = %v, want none", versions)
	}
	if err := txn.WriteFile("0010", "x.json", nil); !errors.Is(err, ErrTxnDone) {
		t.Errorf("WriteFile after Abort error = %v, want ErrTxnDone", err)
	}
	if err := txn.Commit(); !errors.Is(err, ErrTxnDone) {
		t.Errorf("Commit after Abort error = %v, want ErrTxnDone", err)
	}
}

func TestTxn_PrunesSupersededVersions(t *testing.T) {
	c := newTestCache(t, 2)
	for i := 0; i < 5; i++ {
		publish(t, c, "21", "0000", map[string]string{"cat.nom.json": "v"})
	}
	versions, err := c.Versions("21", "0000")
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("versions = %v, want 2 retained", versions)
	}
	current, _ := c.Path("21", "0000")
	if filepath.Base(current) != versions[len(versions)-1] {
		t.Errorf("current version %s should be the newest of %v", filepath.Base(current), versions)
	}
}

func TestTxn_WriteFileRejectsUnknownDir(t *testing.T) {
	c := newTestCache(t, 0)
	txn, err := c.Begin(context.Background(), "21", "0010")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.Abort()

	if err := txn.WriteFile("0000", "cat.nom.json", nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
	if err := txn.WriteFile("0010", "../escape.json", nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestCache_BeginSerializesSharedDirectories(t *testing.T) {
	c := newTestCache(t, 0)

	first, err := c.Begin(context.Background(), "21", "0000", "common")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Begin(ctx, "21", "0000"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Begin error = %v, want deadline exceeded", err)
	}

	// Distinct directories do not wait.
	other, err := c.Begin(context.Background(), "21", "0010")
	if err != nil {
		t.Fatalf("Begin(0010): %v", err)
	}
	other.Abort()

	first.Abort()
	again, err := c.Begin(context.Background(), "21", "0000")
	if err != nil {
		t.Fatalf("Begin after release: %v", err)
	}
	again.Abort()
}

func TestCache_MigratesLegacyDirectory(t *testing.T) {
	c := newTestCache(t, 0)
	legacy := filepath.Join(c.Root(), "21", "0010")
	if err := os.MkdirAll(legacy, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(legacy, "cat.partners.json"), []byte("legacy"), 0640); err != nil {
		t.Fatal(err)
	}

	publish(t, c, "21", "0010", map[string]string{"cat.clrs.json": "new"})

	dir, err := c.Path("21", "0010")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if data, _ := os.ReadFile(filepath.Join(dir, "cat.partners.json")); string(data) != "legacy" {
		t.Errorf("legacy file not carried over, got %q", data)
	}
	if data, _ := os.ReadFile(filepath.Join(dir, "cat.clrs.json")); string(data) != "new" {
		t.Errorf("new file = %q", data)
	}
}

func TestManifest_RoundTrip(t *testing.T) {
	c := newTestCache(t, 0)
	txn, err := c.Begin(context.Background(), "21", "0000")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	m := domain.Manifest{"cat.nom": {Count: 2, Size: 40, Checksum: "abc"}}
	if err := WriteManifest(txn, "0000", m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	staged, err := ReadStagedManifest(txn, "0000")
	if err != nil {
		t.Fatalf("ReadStagedManifest: %v", err)
	}
	if staged["cat.nom"] != m["cat.nom"] {
		t.Errorf("staged = %+v", staged)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	dir, _ := c.Path("21", "0000")
	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if got["cat.nom"] != m["cat.nom"] {
		t.Errorf("ReadManifest = %+v", got)
	}

	raw, _ := os.ReadFile(filepath.Join(dir, ManifestFile))
	if want := `{"cat.nom":{"count":2,"size":40,"checksum":"abc"}}`; string(raw) != want {
		t.Errorf("manifest json = %s, want %s", raw, want)
	}
}

// blockPublish occupies the final version path of a staged directory so the
// rename in publish fails.
func blockPublish(t *testing.T, txn *Txn, dir string) {
	t.Helper()
	staging := txn.staging[dir]
	final := filepath.Join(filepath.Dir(staging), strings.TrimPrefix(filepath.Base(staging), stagingPrefix))
	if err := os.MkdirAll(filepath.Join(final, "occupied"), 0750); err != nil {
		t.Fatal(err)
	}
}

func TestTxn_CommitRollsBackWhenLaterPublishFails(t *testing.T) {
	c := newTestCache(t, 1)
	publish(t, c, "21", "0000", map[string]string{"cat.clrs.json": "old"})
	publish(t, c, "21", "common", map[string]string{ManifestFile: `{"cat.clrs":{"count":1,"size":3,"checksum":"old"}}`})
	oldData, _ := c.Path("21", "0000")

	txn, err := c.Begin(context.Background(), "21", "0000", "common")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := txn.WriteFile("0000", "cat.clrs.json", []byte("new")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := txn.WriteFile("common", ManifestFile, []byte(`{}`)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	blockPublish(t, txn, "common")

	if err := txn.Commit(); !errors.Is(err, domain.ErrIOFailure) {
		t.Fatalf("Commit error = %v, want ErrIOFailure", err)
	}

	dir, err := c.Path("21", "0000")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if dir != oldData {
		t.Errorf("0000 points at %s, want previous version %s", dir, oldData)
	}
	if data, _ := os.ReadFile(filepath.Join(dir, "cat.clrs.json")); string(data) != "old" {
		t.Errorf("cat.clrs.json = %q, want old", data)
	}
	manifestDir, _ := c.Path("21", "common")
	if data, _ := os.ReadFile(filepath.Join(manifestDir, ManifestFile)); !strings.Contains(string(data), `"old"`) {
		t.Errorf("manifest = %s, want previous manifest", data)
	}

	// The directory locks are released after the failed commit.
	again, err := c.Begin(context.Background(), "21", "0000", "common")
	if err != nil {
		t.Fatalf("Begin after failed commit: %v", err)
	}
	again.Abort()
}

func TestTxn_CommitRollbackUnpublishesFirstBuild(t *testing.T) {
	c := newTestCache(t, 0)
	txn, err := c.Begin(context.Background(), "21", "0000", "common")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := txn.WriteFile("0000", "cat.clrs.json", []byte("new")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	blockPublish(t, txn, "common")

	if err := txn.Commit(); err == nil {
		t.Fatal("Commit should fail")
	}
	if c.Exists("21", "0000") {
		t.Error("0000 must stay unpublished after a failed first build")
	}
}
