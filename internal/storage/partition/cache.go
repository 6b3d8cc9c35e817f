package partition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

const (
	versionsDir    = ".versions"
	stagingPrefix  = ".staging-"
	linkTempPrefix = ".link-"

	// DefaultKeepVersions is the number of published versions kept per
	// directory, the current one included.
	DefaultKeepVersions = 2
)

// Opener opens a cached file for reading.
type Opener func(path string) (io.ReadCloser, error)

func osOpener(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Config configures the cache.
type Config struct {
	// Root is the cache root directory.
	Root string

	// KeepVersions is the number of versions retained per directory.
	KeepVersions int

	// Opener replaces os.Open, e.g. to account for file handles.
	Opener Opener
}

// Cache is the partition cache rooted at one directory.
type Cache struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// New creates the cache, creating the root directory if needed.
func New(cfg Config, logger *slog.Logger) (*Cache, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("partition: root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0750); err != nil {
		return nil, domain.ErrIOFailure.Wrap(fmt.Errorf("partition: create root: %w", err))
	}
	if cfg.KeepVersions <= 0 {
		cfg.KeepVersions = DefaultKeepVersions
	}
	if cfg.Opener == nil {
		cfg.Opener = osOpener
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		cfg:    cfg,
		logger: logger,
		locks:  make(map[string]chan struct{}),
	}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.cfg.Root
}

// Path returns the published version directory of {zone}/{dir}.
// It never creates anything; an unpublished directory is ErrPartitionNotFound.
func (c *Cache) Path(zone, dir string) (string, error) {
	if err := domain.NewPartitionKey(zone, dir).Validate(); err != nil {
		return "", err
	}
	link := filepath.Join(c.cfg.Root, zone, dir)
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.ErrPartitionNotFound.WithDetails(zone + "/" + dir)
		}
		return "", domain.ErrIOFailure.Wrap(err)
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return "", domain.ErrIOFailure.Wrap(err)
	}
	if !st.IsDir() {
		return "", domain.ErrPartitionNotFound.WithDetails(zone + "/" + dir)
	}
	return resolved, nil
}

// Resolve returns the directory holding the partition's class files.
// The common partition resolves to the master directory.
func (c *Cache) Resolve(key domain.PartitionKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	return c.Path(key.Zone, key.EffectiveSuffix())
}

// Exists reports whether {zone}/{dir} was published.
func (c *Cache) Exists(zone, dir string) bool {
	_, err := c.Path(zone, dir)
	return err == nil
}

// Open opens a file through the configured opener.
func (c *Cache) Open(path string) (io.ReadCloser, error) {
	return c.cfg.Opener(path)
}

// Versions lists the version directories of {zone}/{dir}, oldest first.
func (c *Cache) Versions(zone, dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.cfg.Root, zone, versionsDir, dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.ErrIOFailure.Wrap(err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Begin starts a build transaction over the given directories of one zone.
// It blocks until every directory lock is held or ctx is done. Locks are
// taken in sorted order, so transactions sharing directories cannot deadlock.
func (c *Cache) Begin(ctx context.Context, zone string, dirs ...string) (*Txn, error) {
	if len(dirs) == 0 {
		return nil, domain.ErrInvalidArgument.WithDetails("no directories to build")
	}
	uniq := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		if err := domain.NewPartitionKey(zone, dir).Validate(); err != nil {
			return nil, err
		}
		uniq[dir] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for dir := range uniq {
		sorted = append(sorted, dir)
	}
	sort.Strings(sorted)

	txn := &Txn{
		cache:   c,
		zone:    zone,
		staging: make(map[string]string, len(sorted)),
		order:   sorted,
	}
	for _, dir := range sorted {
		if err := c.lock(ctx, zone+"/"+dir); err != nil {
			txn.release()
			return nil, err
		}
		txn.held = append(txn.held, zone+"/"+dir)
	}

	for _, dir := range sorted {
		path, err := c.stage(zone, dir)
		if err != nil {
			txn.Abort()
			return nil, err
		}
		txn.staging[dir] = path
	}
	return txn, nil
}

func (c *Cache) lock(ctx context.Context, name string) error {
	c.mu.Lock()
	ch, ok := c.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		c.locks[name] = ch
	}
	c.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) unlock(name string) {
	c.mu.Lock()
	ch := c.locks[name]
	c.mu.Unlock()
	<-ch
}

// stage creates a staging directory seeded with the current version.
func (c *Cache) stage(zone, dir string) (string, error) {
	base := filepath.Join(c.cfg.Root, zone, versionsDir, dir)
	if err := os.MkdirAll(base, 0750); err != nil {
		return "", domain.ErrIOFailure.Wrap(fmt.Errorf("partition: create versions dir: %w", err))
	}
	staging := filepath.Join(base, stagingPrefix+ulid.Make().String())
	if err := os.Mkdir(staging, 0750); err != nil {
		return "", domain.ErrIOFailure.Wrap(fmt.Errorf("partition: create staging: %w", err))
	}

	current, err := c.Path(zone, dir)
	if err != nil {
		if errors.Is(err, domain.ErrPartitionNotFound) {
			return staging, nil
		}
		os.RemoveAll(staging)
		return "", err
	}
	if err := seed(current, staging); err != nil {
		os.RemoveAll(staging)
		return "", domain.ErrIOFailure.Wrap(fmt.Errorf("partition: seed staging: %w", err))
	}
	return staging, nil
}

// seed hard-links every regular file of src into dst, copying when linking
// is not possible. Files are only ever replaced by rename, so shared inodes
// are never modified in place.
func seed(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if err := os.Link(from, to); err == nil {
			continue
		}
		if err := copyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// publish moves a staging directory to its final version name and swaps
// the directory symlink onto it.
func (c *Cache) publish(zone, dir, staging string) (string, error) {
	base := filepath.Join(c.cfg.Root, zone, versionsDir, dir)
	version := strings.TrimPrefix(filepath.Base(staging), stagingPrefix)
	final := filepath.Join(base, version)
	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("partition: finalize version: %w", err)
	}

	zoneDir := filepath.Join(c.cfg.Root, zone)
	link := filepath.Join(zoneDir, dir)
	if err := c.migrateLegacy(zone, dir); err != nil {
		return "", err
	}

	tmp := filepath.Join(zoneDir, linkTempPrefix+dir+"-"+version)
	target := filepath.Join(versionsDir, dir, version)
	if err := os.Symlink(target, tmp); err != nil {
		return "", fmt.Errorf("partition: create link: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("partition: swap link: %w", err)
	}
	syncDir(zoneDir)
	return version, nil
}

// linkTarget returns the current symlink target of {zone}/{dir}, or "" when
// the directory was never published.
func (c *Cache) linkTarget(zone, dir string) string {
	target, err := os.Readlink(filepath.Join(c.cfg.Root, zone, dir))
	if err != nil {
		return ""
	}
	return target
}

// restoreLink points {zone}/{dir} back at target. An empty target removes
// the link, leaving the directory unpublished.
func (c *Cache) restoreLink(zone, dir, target string) error {
	zoneDir := filepath.Join(c.cfg.Root, zone)
	link := filepath.Join(zoneDir, dir)
	if target == "" {
		if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("partition: remove link: %w", err)
		}
		syncDir(zoneDir)
		return nil
	}
	tmp := filepath.Join(zoneDir, linkTempPrefix+dir+"-"+ulid.Make().String())
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("partition: create link: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("partition: restore link: %w", err)
	}
	syncDir(zoneDir)
	return nil
}

// migrateLegacy moves a plain partition directory, written by an older
// deployment, into the versions area so the symlink can replace it.
func (c *Cache) migrateLegacy(zone, dir string) error {
	link := filepath.Join(c.cfg.Root, zone, dir)
	st, err := os.Lstat(link)
	if err != nil || !st.IsDir() {
		return nil
	}
	dst := filepath.Join(c.cfg.Root, zone, versionsDir, dir, ulid.Make().String())
	if err := os.Rename(link, dst); err != nil {
		return fmt.Errorf("partition: migrate legacy dir: %w", err)
	}
	c.logger.Info("migrated legacy partition directory", "zone", zone, "dir", dir, "to", dst)
	return nil
}

// Prune removes superseded versions of {zone}/{dir} beyond the retention,
// along with staging leftovers. The caller must hold the directory lock.
func (c *Cache) prune(zone, dir string) error {
	base := filepath.Join(c.cfg.Root, zone, versionsDir, dir)
	entries, err := os.ReadDir(base)
	if err != nil {
		return err
	}

	current := ""
	if target, err := os.Readlink(filepath.Join(c.cfg.Root, zone, dir)); err == nil {
		current = filepath.Base(target)
	}

	var versions []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, stagingPrefix) {
			_ = os.RemoveAll(filepath.Join(base, name))
			continue
		}
		if e.IsDir() && name != current {
			versions = append(versions, name)
		}
	}

	sort.Strings(versions)
	keep := c.cfg.KeepVersions - 1
	if len(versions) <= keep {
		return nil
	}
	for _, name := range versions[:len(versions)-keep] {
		if err := os.RemoveAll(filepath.Join(base, name)); err != nil {
			return err
		}
		c.logger.Debug("pruned partition version", "zone", zone, "dir", dir, "version", name)
	}
	return nil
}

func syncDir(path string) {
	d, err := os.Open(path)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
