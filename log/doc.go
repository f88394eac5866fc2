// Package log defines the logging interface and typed fields used across the
// bootstrap. The zap package provides the production implementation.
package log
