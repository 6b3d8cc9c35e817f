// Package logger configures log/slog for the server.
//
// Output is JSON by default and the level can be changed at runtime with
// SetLevel. Bearer tokens and attributes with secret-looking keys are
// redacted before they reach the output.
package logger
