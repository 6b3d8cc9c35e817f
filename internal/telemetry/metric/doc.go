// Package metric exposes Prometheus metrics for mdm-server.
//
// Registry owns a dedicated prometheus.Registry carrying the build, fetch
// and HTTP metrics plus the Go runtime and process collectors. It satisfies
// the snapshot metrics interface, so builders and servers report into it
// directly.
package metric
