package snapshot

import (
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/blake3"
)

// Checksum algorithms.
const (
	ChecksumCRC32   = "crc32"
	ChecksumMurmur3 = "murmur3"
	ChecksumBLAKE3  = "blake3"
)

// Checksum computes the content hash of a serialized payload.
type Checksum func(data []byte) string

// NewChecksum returns the checksum function for an algorithm name.
// An empty name selects crc32, the format legacy clients compare against.
func NewChecksum(alg string) (Checksum, error) {
	switch strings.ToLower(alg) {
	case "", ChecksumCRC32:
		return crc32Sum, nil
	case ChecksumMurmur3:
		return murmur3Sum, nil
	case ChecksumBLAKE3:
		return blake3Sum, nil
	default:
		return nil, fmt.Errorf("snapshot: unknown checksum algorithm %q", alg)
	}
}

func crc32Sum(data []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}

func murmur3Sum(data []byte) string {
	h := murmur3.New128()
	h.Write(data)
	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2)
}

func blake3Sum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
