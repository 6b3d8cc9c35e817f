package partition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// ErrTxnDone is returned when a committed or aborted transaction is used.
var ErrTxnDone = errors.New("partition: transaction already finished")

// Txn is one build transaction. Files written through it stay invisible to
// readers until Commit. WriteFile and ReadFile are safe for concurrent use.
type Txn struct {
	cache   *Cache
	zone    string
	staging map[string]string
	order   []string
	held    []string

	mu   sync.Mutex
	done bool
}

// Zone returns the zone the transaction builds.
func (t *Txn) Zone() string {
	return t.zone
}

// Dirs returns the directories of the transaction in lock order.
func (t *Txn) Dirs() []string {
	return append([]string(nil), t.order...)
}

func (t *Txn) stagingDir(dir string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return "", ErrTxnDone
	}
	path, ok := t.staging[dir]
	if !ok {
		return "", domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("directory %q is not part of the transaction", dir))
	}
	return path, nil
}

// WriteFile writes one file into the staging area of dir. The data is
// written to a temporary file, synced and renamed into place.
func (t *Txn) WriteFile(dir, name string, data []byte) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("file name %q", name))
	}
	staging, err := t.stagingDir(dir)
	if err != nil {
		return err
	}

	tmp := filepath.Join(staging, "."+name+"."+ulid.Make().String()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return domain.ErrIOFailure.Wrap(fmt.Errorf("partition: create temp file: %w", err))
	}
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return domain.ErrIOFailure.Wrap(fmt.Errorf("partition: write %s: %w", name, err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return domain.ErrIOFailure.Wrap(fmt.Errorf("partition: sync %s: %w", name, err))
	}
	if err := f.Close(); err != nil {
		return domain.ErrIOFailure.Wrap(fmt.Errorf("partition: close %s: %w", name, err))
	}
	if err := os.Rename(tmp, filepath.Join(staging, name)); err != nil {
		return domain.ErrIOFailure.Wrap(fmt.Errorf("partition: rename %s: %w", name, err))
	}
	return nil
}

// ReadFile reads a file from the staging area, which holds the previously
// published content until overwritten. A missing file is fs.ErrNotExist.
func (t *Txn) ReadFile(dir, name string) ([]byte, error) {
	staging, err := t.stagingDir(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(staging, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, domain.ErrIOFailure.Wrap(err)
	}
	return data, nil
}

// Stat returns file info from the staging area.
func (t *Txn) Stat(dir, name string) (fs.FileInfo, error) {
	staging, err := t.stagingDir(dir)
	if err != nil {
		return nil, err
	}
	return os.Stat(filepath.Join(staging, name))
}

// Commit publishes every staged directory and releases the locks.
// Each directory is swapped atomically. When a later directory fails to
// publish, the ones already swapped are pointed back at their previous
// version, so a zone never mixes new data with an old manifest.
// Superseded versions are pruned once every directory is published.
func (t *Txn) Commit() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return ErrTxnDone
	}
	t.done = true
	t.mu.Unlock()
	defer t.release()

	c := t.cache
	previous := make(map[string]string, len(t.order))
	for i, dir := range t.order {
		previous[dir] = c.linkTarget(t.zone, dir)
		version, err := c.publish(t.zone, dir, t.staging[dir])
		if err != nil {
			for _, rest := range t.order[i:] {
				os.RemoveAll(t.staging[rest])
			}
			for j := i - 1; j >= 0; j-- {
				done := t.order[j]
				if rerr := c.restoreLink(t.zone, done, previous[done]); rerr != nil {
					c.logger.Error("restore partition link failed", "zone", t.zone, "dir", done, "error", rerr)
					continue
				}
				c.logger.Warn("partition publish rolled back", "zone", t.zone, "dir", done)
			}
			return domain.ErrIOFailure.Wrap(err)
		}
		c.logger.Debug("partition published", "zone", t.zone, "dir", dir, "version", version)
	}

	for _, dir := range t.order {
		if err := c.prune(t.zone, dir); err != nil {
			c.logger.Warn("prune partition versions failed", "zone", t.zone, "dir", dir, "error", err)
		}
	}
	return nil
}

// Abort discards every staged directory and releases the locks.
// Calling Abort after Commit is a no-op.
func (t *Txn) Abort() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()

	for _, staging := range t.staging {
		os.RemoveAll(staging)
	}
	t.release()
}

func (t *Txn) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.cache.unlock(t.held[i])
	}
	t.held = nil
}
