// Package domain defines the core domain models for the master-data cache.
//
// Domain models are pure value objects without any IO dependencies or
// framework coupling. This package contains:
//
//   - ClassName and Tier: data class identity and load-order buckets
//   - PartitionKey: the (zone, suffix) address of a snapshot partition
//   - Branch and Principal: branch context resolved for a request
//   - Record: one business entity document as read from the store
//   - ManifestEntry and Manifest: per-partition integrity index
//   - Errors: domain-specific error definitions
package domain
