package domain

import (
	"fmt"
	"regexp"
)

// Suffix sentinels.
const (
	// SuffixCommon addresses data shared by all branches.
	SuffixCommon = "common"

	// SuffixMaster is the directory holding master (non by-branch) data.
	SuffixMaster = "0000"
)

var keyPartPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// PartitionKey addresses one snapshot partition.
type PartitionKey struct {
	Zone   string `json:"zone"`
	Suffix string `json:"suffix"`
}

// NewPartitionKey creates a key, defaulting an empty suffix to the master suffix.
func NewPartitionKey(zone, suffix string) PartitionKey {
	if suffix == "" {
		suffix = SuffixMaster
	}
	return PartitionKey{Zone: zone, Suffix: suffix}
}

// Validate checks that both parts are safe path components.
func (k PartitionKey) Validate() error {
	if k.Zone == "" {
		return ErrInvalidPartitionKey.WithDetails("zone is required")
	}
	if !keyPartPattern.MatchString(k.Zone) {
		return ErrInvalidPartitionKey.WithDetails(fmt.Sprintf("zone %q", k.Zone))
	}
	if !keyPartPattern.MatchString(k.Suffix) {
		return ErrInvalidPartitionKey.WithDetails(fmt.Sprintf("suffix %q", k.Suffix))
	}
	return nil
}

// IsCommon reports whether the key addresses the common partition.
func (k PartitionKey) IsCommon() bool {
	return k.Suffix == SuffixCommon
}

// IsMaster reports whether the key addresses the master partition.
func (k PartitionKey) IsMaster() bool {
	return k.Suffix == SuffixMaster
}

// EffectiveSuffix returns the directory that holds the partition data:
// the common partition lives in the master directory.
func (k PartitionKey) EffectiveSuffix() string {
	if k.IsCommon() {
		return SuffixMaster
	}
	return k.Suffix
}

// String implements fmt.Stringer.
func (k PartitionKey) String() string {
	return k.Zone + "/" + k.Suffix
}
