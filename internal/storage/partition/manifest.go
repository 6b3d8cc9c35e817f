package partition

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// ManifestFile is the manifest file name inside a partition directory.
const ManifestFile = "manifest.json"

// WriteManifest writes the manifest of dir through the transaction.
// Keys are emitted in sorted order.
func WriteManifest(txn *Txn, dir string, m domain.Manifest) error {
	if m == nil {
		m = domain.Manifest{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("partition: marshal manifest: %w", err)
	}
	return txn.WriteFile(dir, ManifestFile, data)
}

// ReadStagedManifest returns the manifest currently staged for dir, which is
// the previously published one until overwritten. A missing manifest yields
// an empty one.
func ReadStagedManifest(txn *Txn, dir string) (domain.Manifest, error) {
	data, err := txn.ReadFile(dir, ManifestFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Manifest{}, nil
		}
		return nil, err
	}
	return decodeManifest(data)
}

// ReadManifest reads the manifest of a resolved partition directory.
func ReadManifest(dirPath string) (domain.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dirPath, ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrPartitionNotFound.WithDetails("manifest missing")
		}
		return nil, domain.ErrIOFailure.Wrap(err)
	}
	return decodeManifest(data)
}

func decodeManifest(data []byte) (domain.Manifest, error) {
	m := domain.Manifest{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, domain.ErrIOFailure.Wrap(fmt.Errorf("partition: decode manifest: %w", err))
	}
	return m, nil
}
