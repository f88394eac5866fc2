package bootstrap

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Inspector reads the current state of the database bound to DatabaseName.
type Inspector interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	IndexKeys(ctx context.Context, collection string) ([]bson.D, error)
}

// IndexStatus counts how many existing indexes match Index exactly.
type IndexStatus struct {
	Index Index
	Count int
}

// Present reports whether at least one existing index has the key pattern.
func (s IndexStatus) Present() bool {
	return s.Count > 0
}

// Duplicated reports whether more than one existing index has the key
// pattern. The server allows this when collation or partial filters differ.
func (s IndexStatus) Duplicated() bool {
	return s.Count > 1
}

// Report is the observed state of TransactionsCollection.
type Report struct {
	Database         string
	Collection       string
	CollectionExists bool
	Indexes          []IndexStatus
	// Extra holds indexes that are not targets, _id included. They are left alone.
	Extra []bson.D
}

// Complete reports whether the collection exists and each target index is
// present. Duplicated targets still count as present.
func (r Report) Complete() bool {
	if !r.CollectionExists {
		return false
	}

	for _, status := range r.Indexes {
		if !status.Present() {
			return false
		}
	}

	return true
}

// Duplicated returns the targets matched by more than one existing index.
func (r Report) Duplicated() []IndexStatus {
	var out []IndexStatus

	for _, status := range r.Indexes {
		if status.Duplicated() {
			out = append(out, status)
		}
	}

	return out
}

// Verify inspects the database without modifying it. Only the key pattern is
// compared, so an index on {client: 1} with a collation or partial filter
// matches the client target.
func Verify(ctx context.Context, inspector Inspector) (Report, error) {
	report := Report{
		Database:   DatabaseName,
		Collection: TransactionsCollection,
	}

	if ctx == nil {
		return report, ErrNilContext
	}

	if inspector == nil {
		return report, ErrNilStore
	}

	targets := TransactionIndexes()

	report.Indexes = make([]IndexStatus, len(targets))
	for i, target := range targets {
		report.Indexes[i] = IndexStatus{Index: target}
	}

	exists, err := inspector.CollectionExists(ctx, TransactionsCollection)
	if err != nil {
		return report, err
	}

	report.CollectionExists = exists

	if !exists {
		return report, nil
	}

	keys, err := inspector.IndexKeys(ctx, TransactionsCollection)
	if err != nil {
		return report, err
	}

	for _, key := range keys {
		matched := false

		for i, target := range targets {
			if matchesIndex(key, target) {
				report.Indexes[i].Count++
				matched = true

				break
			}
		}

		if !matched {
			report.Extra = append(report.Extra, key)
		}
	}

	return report, nil
}

// matchesIndex reports whether key is exactly the single-field pattern of index.
func matchesIndex(key bson.D, index Index) bool {
	if len(key) != 1 || key[0].Key != index.Field {
		return false
	}

	direction, ok := toInt64(key[0].Value)

	return ok && direction == int64(index.Direction)
}

// toInt64 normalises the numeric types the server uses for key directions.
func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}

		return int64(v), true
	default:
		return 0, false
	}
}

// String renders the report as one line per target.
func (r Report) String() string {
	out := fmt.Sprintf("%s.%s exists=%t", r.Database, r.Collection, r.CollectionExists)

	for _, status := range r.Indexes {
		out += fmt.Sprintf("\n  %s: %d", status.Index, status.Count)
	}

	return out
}
