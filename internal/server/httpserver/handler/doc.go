// Package handler provides the HTTP request handlers of the master-data
// cache.
//
// Handlers are split by concern:
//
//   - mdm.go: partition fetch, rebuild, manifest and plan
//   - records.go: bulk record feeding for the document store
//   - health.go: liveness and readiness checks
//
// All handlers follow a consistent pattern:
//
//   - Parse and validate the request
//   - Call the snapshot service
//   - Format the response, or map the error to a status and an envelope
package handler
