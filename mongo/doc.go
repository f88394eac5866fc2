// Package mongo wraps the MongoDB driver with an explicit, caller-owned
// connection lifecycle and idempotent ensure primitives.
//
// EnsureCollection and EnsureIndexes treat "already exists" server responses as
// success, so running them repeatedly, or from several processes at once,
// converges on the same state. Every call is traced with OpenTelemetry.
package mongo
