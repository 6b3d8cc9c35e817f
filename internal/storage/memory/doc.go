// Package memory provides an in-memory document store.
//
// Each class has its own table in a sharded map, so writers to different
// classes do not contend. Scans visit refs in sorted order, matching the
// on-disk store. Used by tests and by the "memory" storage engine.
package memory
