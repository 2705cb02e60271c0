/*
Package pgdoc implements the document store on Postgres.

Every collection is one table holding the document as a jsonb column, keyed
by the document's "_id". Equality filters compile to jsonb containment, so
nested filter values work the same way they do against the in-memory store.
*/
package pgdoc

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // load database driver for postgres
	"github.com/sirupsen/logrus"

	"github.com/morpho-tech/morpho/core/docstore"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// OpenWithSchema opens a postgres database with a schema. The schema gets
// created if it does not exist yet.
func OpenWithSchema(dataSourceName, schema string) (*DB, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		logrus.Debugln("selected database schema:", schema)
		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + schema + `;`)
		if err != nil {
			return nil, err
		}
	}
	return &DB{DB: db, Schema: schema}, nil
}

// ClearSchema clears all the data contained in the database's schema.
// Technically this is done by dropping the schema and then recreating it.
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logrus.Errorln("clear schema error:", db.Schema, err.Error())
	}
}

// Store is the Postgres-backed document store
type Store struct {
	db *DB

	mu      sync.Mutex
	created map[string]bool
}

// NewStore creates a document store on the given database
func NewStore(db *DB) *Store {
	return &Store{db: db, created: map[string]bool{}}
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) table(collection string) string {
	return s.db.Schema + `."` + collection + `"`
}

// ensureTable creates the collection's table on first use
func (s *Store) ensureTable(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created[collection] {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `CREATE table IF NOT EXISTS `+s.table(collection)+`
(_id varchar NOT NULL,
doc jsonb NOT NULL,
timestamp timestamp NOT NULL DEFAULT now(),
PRIMARY KEY(_id)
);`)
	if err != nil {
		return err
	}
	s.created[collection] = true
	return nil
}

func filterArgument(filter docstore.Filter) (string, error) {
	if filter == nil {
		filter = docstore.Filter{}
	}
	body, err := json.Marshal(filter)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// InsertOne inserts one document. A document without an "_id" gets a fresh
// UUID identity.
func (s *Store) InsertOne(ctx context.Context, collection string, doc docstore.Document) (docstore.InsertResult, error) {
	var result docstore.InsertResult
	if err := s.ensureTable(ctx, collection); err != nil {
		return result, err
	}
	id, ok := doc["_id"]
	if !ok {
		id = uuid.NewString()
		doc["_id"] = id
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return result, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.table(collection)+`(_id,doc) VALUES($1,$2);`,
		fmt.Sprintf("%v", id), string(body))
	if err != nil {
		return result, err
	}
	return docstore.InsertResult{InsertedID: id, InsertedCount: 1}, nil
}

// UpdateOne merges set into the first document matching filter
func (s *Store) UpdateOne(ctx context.Context, collection string, filter docstore.Filter, set docstore.Document) (docstore.UpdateResult, error) {
	var result docstore.UpdateResult
	if err := s.ensureTable(ctx, collection); err != nil {
		return result, err
	}
	filterJSON, err := filterArgument(filter)
	if err != nil {
		return result, err
	}
	setJSON, err := json.Marshal(set)
	if err != nil {
		return result, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+s.table(collection)+` SET doc = doc || $2::jsonb
WHERE _id IN (SELECT _id FROM `+s.table(collection)+` WHERE doc @> $1::jsonb LIMIT 1);`,
		filterJSON, string(setJSON))
	if err != nil {
		return result, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return result, err
	}
	return docstore.UpdateResult{MatchedCount: count, ModifiedCount: count}, nil
}

// DeleteOne removes the first document matching filter
func (s *Store) DeleteOne(ctx context.Context, collection string, filter docstore.Filter) (docstore.DeleteResult, error) {
	return s.delete(ctx, collection, filter, true)
}

// DeleteMany removes all documents matching filter
func (s *Store) DeleteMany(ctx context.Context, collection string, filter docstore.Filter) (docstore.DeleteResult, error) {
	return s.delete(ctx, collection, filter, false)
}

func (s *Store) delete(ctx context.Context, collection string, filter docstore.Filter, single bool) (docstore.DeleteResult, error) {
	var result docstore.DeleteResult
	if err := s.ensureTable(ctx, collection); err != nil {
		return result, err
	}
	filterJSON, err := filterArgument(filter)
	if err != nil {
		return result, err
	}
	query := `DELETE FROM ` + s.table(collection) + ` WHERE doc @> $1::jsonb;`
	if single {
		query = `DELETE FROM ` + s.table(collection) +
			` WHERE _id IN (SELECT _id FROM ` + s.table(collection) + ` WHERE doc @> $1::jsonb LIMIT 1);`
	}
	res, err := s.db.ExecContext(ctx, query, filterJSON)
	if err != nil {
		return result, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return result, err
	}
	return docstore.DeleteResult{DeletedCount: count}, nil
}

// Find returns a cursor over all matching documents, in insertion order
func (s *Store) Find(ctx context.Context, collection string, filter docstore.Filter) (docstore.Cursor, error) {
	if err := s.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	filterJSON, err := filterArgument(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM `+s.table(collection)+` WHERE doc @> $1::jsonb ORDER BY timestamp;`,
		filterJSON)
	if err != nil {
		return nil, err
	}
	return &rowsCursor{rows: rows}, nil
}

// FindOne returns the first matching document, or docstore.ErrNoDocuments
func (s *Store) FindOne(ctx context.Context, collection string, filter docstore.Filter) (docstore.Document, error) {
	if err := s.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	filterJSON, err := filterArgument(filter)
	if err != nil {
		return nil, err
	}
	var body []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT doc FROM `+s.table(collection)+` WHERE doc @> $1::jsonb ORDER BY timestamp LIMIT 1;`,
		filterJSON).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, docstore.ErrNoDocuments
	}
	if err != nil {
		return nil, err
	}
	var doc docstore.Document
	if err = json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// rowsCursor adapts sql.Rows to the docstore cursor contract
type rowsCursor struct {
	rows    *sql.Rows
	current docstore.Document
	err     error
}

func (c *rowsCursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.rows.Next() {
		if c.err == nil {
			c.err = c.rows.Err()
		}
		return false
	}
	var body []byte
	if c.err = c.rows.Scan(&body); c.err != nil {
		return false
	}
	var doc docstore.Document
	if c.err = json.Unmarshal(body, &doc); c.err != nil {
		return false
	}
	c.current = doc
	return true
}

func (c *rowsCursor) Document() docstore.Document {
	return c.current
}

func (c *rowsCursor) All(ctx context.Context) ([]docstore.Document, error) {
	defer c.rows.Close()
	docs := []docstore.Document{}
	for c.Next(ctx) {
		docs = append(docs, c.current)
	}
	if c.err != nil {
		return nil, c.err
	}
	return docs, nil
}

func (c *rowsCursor) Err() error {
	return c.err
}

func (c *rowsCursor) Close(ctx context.Context) error {
	return c.rows.Close()
}
