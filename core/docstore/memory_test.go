package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	res, err := s.InsertOne(ctx, "users", Document{"_id": "u1", "name": "Ada", "age": 36})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.InsertedID)
	assert.Equal(t, int64(1), res.InsertedCount)
	_, err = s.InsertOne(ctx, "users", Document{"_id": "u2", "name": "Grace", "age": 45})
	require.NoError(t, err)

	doc, err := s.FindOne(ctx, "users", Filter{"_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", doc["name"])

	_, err = s.FindOne(ctx, "users", Filter{"_id": "nope"})
	assert.ErrorIs(t, err, ErrNoDocuments)

	up, err := s.UpdateOne(ctx, "users", Filter{"_id": "u1"}, Document{"age": 37})
	require.NoError(t, err)
	assert.Equal(t, int64(1), up.MatchedCount)
	assert.Equal(t, int64(1), up.ModifiedCount)
	doc, _ = s.FindOne(ctx, "users", Filter{"_id": "u1"})
	assert.Equal(t, 37, doc["age"])

	// updating to the same value matches but does not modify
	up, err = s.UpdateOne(ctx, "users", Filter{"_id": "u1"}, Document{"age": 37})
	require.NoError(t, err)
	assert.Equal(t, int64(1), up.MatchedCount)
	assert.Equal(t, int64(0), up.ModifiedCount)

	del, err := s.DeleteOne(ctx, "users", Filter{"_id": "u2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), del.DeletedCount)

	del, err = s.DeleteMany(ctx, "users", Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), del.DeletedCount)
}

func TestMemoryStoreFindCursor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.InsertOne(ctx, "things", Document{"_id": name, "kind": "letter"})
		require.NoError(t, err)
	}
	_, err := s.InsertOne(ctx, "things", Document{"_id": "d", "kind": "other"})
	require.NoError(t, err)

	cursor, err := s.Find(ctx, "things", Filter{"kind": "letter"})
	require.NoError(t, err)
	var ids []string
	for cursor.Next(ctx) {
		ids = append(ids, cursor.Document()["_id"].(string))
	}
	require.NoError(t, cursor.Err())
	require.NoError(t, cursor.Close(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	cursor, err = s.Find(ctx, "things", Filter{})
	require.NoError(t, err)
	all, err := cursor.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMemoryStoreNumericEquality(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.InsertOne(ctx, "n", Document{"_id": "x", "count": 3})
	require.NoError(t, err)

	// JSON-decoded filters carry float64 numbers
	doc, err := s.FindOne(ctx, "n", Filter{"count": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, "x", doc["_id"])
}

func TestMemoryStoreCopiesDocuments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	original := Document{"_id": "x", "nested": Document{"k": "v"}}
	_, err := s.InsertOne(ctx, "c", original)
	require.NoError(t, err)

	original["nested"].(Document)["k"] = "mutated"
	doc, err := s.FindOne(ctx, "c", Filter{"_id": "x"})
	require.NoError(t, err)
	assert.Equal(t, "v", doc["nested"].(Document)["k"])
}

func TestConnections(t *testing.T) {
	conns := NewConnections()
	_, ok := conns.Lookup("userDb")
	assert.False(t, ok)

	first := NewMemoryStore()
	conns.Register("userDb", first)
	got, ok := conns.Lookup("userDb")
	require.True(t, ok)
	assert.Same(t, first, got)

	// rebinding swaps the store
	second := NewMemoryStore()
	conns.Register("userDb", second)
	got, _ = conns.Lookup("userDb")
	assert.Same(t, second, got)

	assert.ElementsMatch(t, []string{"userDb"}, conns.Names())
}
