// Package snapshot builds and serves partition snapshots.
//
// A build walks the load-order plan tier by tier, filters and exports the
// records of every applicable class, writes one payload file per class and
// finally the manifest. Serving re-derives the same class list and streams
// the files concatenated in load order.
//
// Payload format, one file per class:
//
//	{"name":"cat.nom","rows":[...]}\r\n
package snapshot
