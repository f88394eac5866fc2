// Package zap implements log.Logger on top of go.uber.org/zap.
//
// Entries are JSON encoded and mirrored to the OpenTelemetry log bridge so
// bootstrap runs can be correlated with the traces emitted by the mongo package.
package zap
