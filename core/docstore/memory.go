package docstore

import (
	"context"
	"reflect"
	"sync"
)

// MemoryStore is an in-memory document store. It keeps deep copies of all
// documents, preserves insertion order per collection, and is safe for
// concurrent use. Intended for tests and examples.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: map[string][]Document{}}
}

// InsertOne appends a copy of doc to the collection
func (s *MemoryStore) InsertOne(ctx context.Context, collection string, doc Document) (InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], deepCopy(doc))
	return InsertResult{InsertedID: doc["_id"], InsertedCount: 1}, nil
}

// UpdateOne applies set to the first document matching filter
func (s *MemoryStore) UpdateOne(ctx context.Context, collection string, filter Filter, set Document) (UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.collections[collection] {
		if !matches(doc, filter) {
			continue
		}
		modified := int64(0)
		for k, v := range set {
			if !equalValue(doc[k], v) {
				modified = 1
			}
			doc[k] = deepCopyValue(v)
		}
		return UpdateResult{MatchedCount: 1, ModifiedCount: modified}, nil
	}
	return UpdateResult{}, nil
}

// DeleteOne removes the first document matching filter
func (s *MemoryStore) DeleteOne(ctx context.Context, collection string, filter Filter) (DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	for i, doc := range docs {
		if matches(doc, filter) {
			s.collections[collection] = append(docs[:i], docs[i+1:]...)
			return DeleteResult{DeletedCount: 1}, nil
		}
	}
	return DeleteResult{}, nil
}

// DeleteMany removes all documents matching filter
func (s *MemoryStore) DeleteMany(ctx context.Context, collection string, filter Filter) (DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []Document
	deleted := int64(0)
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	s.collections[collection] = kept
	return DeleteResult{DeletedCount: deleted}, nil
}

// Find returns a cursor over copies of all matching documents, in insertion
// order
func (s *MemoryStore) Find(ctx context.Context, collection string, filter Filter) (Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Document
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			result = append(result, deepCopy(doc))
		}
	}
	return &sliceCursor{docs: result}, nil
}

// FindOne returns a copy of the first matching document, or ErrNoDocuments
func (s *MemoryStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			return deepCopy(doc), nil
		}
	}
	return nil, ErrNoDocuments
}

// sliceCursor is a cursor over an already materialized result
type sliceCursor struct {
	docs []Document
	pos  int
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Document() Document {
	if c.pos == 0 || c.pos > len(c.docs) {
		return nil
	}
	return c.docs[c.pos-1]
}

func (c *sliceCursor) All(ctx context.Context) ([]Document, error) {
	rest := c.docs[c.pos:]
	c.pos = len(c.docs)
	return rest, nil
}

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close(ctx context.Context) error {
	c.pos = len(c.docs)
	return nil
}

func matches(doc Document, filter Filter) bool {
	for k, want := range filter {
		have, ok := doc[k]
		if !ok || !equalValue(have, want) {
			return false
		}
	}
	return true
}

// equalValue compares loosely across the numeric types JSON decoding
// produces
func equalValue(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func deepCopy(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Document:
		return deepCopy(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = deepCopyValue(t[i])
		}
		return out
	default:
		return v
	}
}
