// Package service orchestrates partition rebuilds and fetches.
//
// SnapshotService is the single entry point used by the HTTP handlers and
// the CLI. It resolves the effective partition key for a caller, applies
// the branch access policy and the rebuild throttle, then delegates to the
// snapshot builder and server.
//
// Authenticator maps bearer tokens to principals. A missing or unknown
// token yields an unauthenticated principal; the access policy decides
// what such a caller may read.
package service
