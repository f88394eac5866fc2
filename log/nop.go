package log

import "context"

type nopLogger struct{}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &nopLogger{}
}

func (*nopLogger) Log(context.Context, Level, string, ...Field) {}

//nolint:ireturn
func (l *nopLogger) With(...Field) Logger { return l }

func (*nopLogger) Enabled(Level) bool { return false }

func (*nopLogger) Sync(context.Context) error { return nil }
