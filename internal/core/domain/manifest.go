package domain

import "sort"

// ManifestEntry describes one class file of a partition.
type ManifestEntry struct {
	Count    int    `json:"count"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Manifest maps class names to their entries.
type Manifest map[ClassName]ManifestEntry

// Classes returns the class names in lexical order.
func (m Manifest) Classes() []ClassName {
	out := make([]ClassName, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
