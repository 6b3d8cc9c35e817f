// Package httpserver provides the HTTP/HTTPS server of the master-data cache.
//
// It uses net/http with Go 1.22 method patterns:
//
//   - Partition endpoints: /mdm/{zone}, /mdm/{zone}/{suffix}, .../rebuild, .../manifest
//   - Plan endpoint: /mdm/plan
//   - Admin endpoints: /admin/v1/records/{class}
//   - Probe endpoints: /health, /ready, /metrics
//
// Every API request passes RequestID, Recover, CORS, Authenticate and Audit;
// admin requests additionally pass the network ACL and AdminOnly.
package httpserver
