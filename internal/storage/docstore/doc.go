// Package docstore holds the document store the snapshot builder reads.
//
// Records are JSON documents grouped by class. The Badger engine keeps them
// on disk under "class\x00ref" keys; CouchCollection reads a secondary
// collection from a CouchDB-compatible HTTP endpoint.
package docstore
