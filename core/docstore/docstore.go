/*
Package docstore defines the document store consumed by the model layer and
provides a concurrency-safe in-memory implementation.

Documents are plain key-value maps; filters match on key equality. The
identity field is stored under the "_id" key by convention. Real database
backends implement the same Store interface, see the pgdoc subpackage.
*/
package docstore

import (
	"context"
	"errors"
)

// Document is a stored document, a plain key-value map
type Document = map[string]interface{}

// Filter selects documents by key equality
type Filter = map[string]interface{}

// ErrNoDocuments is returned by FindOne when no document matches
var ErrNoDocuments = errors.New("no documents in result")

// InsertResult reports an insert
type InsertResult struct {
	InsertedID    interface{}
	InsertedCount int64
}

// UpdateResult reports an update
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// DeleteResult reports a delete
type DeleteResult struct {
	DeletedCount int64
}

// Cursor iterates over a find result
type Cursor interface {
	// Next advances the cursor. It returns false when the cursor is
	// exhausted or failed; check Err to distinguish.
	Next(ctx context.Context) bool
	// Document returns the current document
	Document() Document
	// All drains the remaining documents and closes the cursor
	All(ctx context.Context) ([]Document, error)
	// Err returns the error that stopped iteration, if any
	Err() error
	// Close releases the cursor
	Close(ctx context.Context) error
}

// Store is the document store contract the model layer persists through
type Store interface {
	InsertOne(ctx context.Context, collection string, doc Document) (InsertResult, error)
	UpdateOne(ctx context.Context, collection string, filter Filter, set Document) (UpdateResult, error)
	DeleteOne(ctx context.Context, collection string, filter Filter) (DeleteResult, error)
	DeleteMany(ctx context.Context, collection string, filter Filter) (DeleteResult, error)
	Find(ctx context.Context, collection string, filter Filter) (Cursor, error)
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
}
