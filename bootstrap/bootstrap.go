package bootstrap

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	// DatabaseName is the database owned by the transactions ledger.
	DatabaseName = "rinha"
	// TransactionsCollection holds one document per ledger transaction.
	TransactionsCollection = "transactions"
)

var (
	// ErrNilStore is returned when Run or Verify receive no store.
	ErrNilStore = errors.New("bootstrap store is nil")
	// ErrNilContext is returned when a required context is nil.
	ErrNilContext = errors.New("context cannot be nil")
)

// Direction is the sort order of an index key.
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	default:
		return "unknown"
	}
}

// Index describes a plain, non-unique single-field index.
type Index struct {
	Field     string
	Direction Direction
}

// Model returns the driver model. The server derives the index name
// (client_1, date_-1).
func (i Index) Model() mongo.IndexModel {
	return mongo.IndexModel{Keys: bson.D{{Key: i.Field, Value: int32(i.Direction)}}}
}

func (i Index) String() string {
	return i.Field + " " + i.Direction.String()
}

// TransactionIndexes lists the indexes ensured on TransactionsCollection, in
// creation order.
func TransactionIndexes() []Index {
	return []Index{
		{Field: "client", Direction: Ascending},
		{Field: "date", Direction: Descending},
	}
}

// Store is a connection bound to DatabaseName that can ensure collections and
// indexes. *mongo.Client from this module's mongo package satisfies it.
type Store interface {
	EnsureCollection(ctx context.Context, collection string) error
	EnsureIndexes(ctx context.Context, collection string, indexes ...mongo.IndexModel) error
}

// Run ensures TransactionsCollection exists and carries every index in
// TransactionIndexes. It is safe to run repeatedly. The first error stops the
// sequence and is returned as-is.
func Run(ctx context.Context, store Store) error {
	if ctx == nil {
		return ErrNilContext
	}

	if store == nil {
		return ErrNilStore
	}

	if err := store.EnsureCollection(ctx, TransactionsCollection); err != nil {
		return err
	}

	for _, index := range TransactionIndexes() {
		if err := store.EnsureIndexes(ctx, TransactionsCollection, index.Model()); err != nil {
			return err
		}
	}

	return nil
}
