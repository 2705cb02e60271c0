/*
Package model synthesizes the data operations of a document-backed model.

A model is a plain struct embedding Base; binding it to a connection
registry yields a Collection with the full operation set: create, save,
remove and the get variants, plus both marshalling surfaces (database and
wire). The binding is configured with options; configuration is validated
lazily on first use, so partially configured models are fine in tests.

An integrator that wants a different implementation for one of the
synthesized operations wraps or embeds the Collection and shadows the
method; nothing here needs to know.
*/
package model

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/goccy/go-json"

	"github.com/morpho-tech/morpho/core"
	"github.com/morpho-tech/morpho/core/docstore"
	"github.com/morpho-tech/morpho/core/logger"
	"github.com/morpho-tech/morpho/core/mapper"
	"github.com/morpho-tech/morpho/core/metadata"
)

// error kinds of the synthesized operations
var (
	// ErrConfiguration is returned when a data operation runs against a
	// binding with a missing database or collection name
	ErrConfiguration = errors.New("model configuration error")
	// ErrIdentifierMissing is returned by save and remove on an instance
	// without an identity
	ErrIdentifierMissing = errors.New("model identifier missing")
	// ErrDatabaseNotFound is returned when the configured database name is
	// not registered with the connection registry
	ErrDatabaseNotFound = errors.New("database not found for model")
)

// Base carries the identity every persisted model needs. The single ID
// field serves both external names: "_id" in the database representation
// and "id" on the wire.
type Base struct {
	ID core.ID
}

// Option configures a model binding
type Option func(*metadata.Config)

// WithDatabase sets the connection-registry name of the model's database
func WithDatabase(name string) Option {
	return func(c *metadata.Config) { c.Database = name }
}

// WithCollection sets the model's document collection name
func WithCollection(name string) Option {
	return func(c *metadata.Config) { c.Collection = name }
}

// Promiscuous marshals every property instead of only the decorated ones
func Promiscuous() Option {
	return func(c *metadata.Config) { c.Promiscuous = true }
}

// Suppress excludes operations from route synthesis
func Suppress(ops ...core.Operation) Option {
	return func(c *metadata.Config) {
		if c.Suppressed == nil {
			c.Suppressed = map[core.Operation]bool{}
		}
		for _, op := range ops {
			c.Suppressed[op] = true
		}
	}
}

// WithSchema selects the JSON schema incoming wire payloads are validated
// against
func WithSchema(schemaID string) Option {
	return func(c *metadata.Config) { c.SchemaID = schemaID }
}

// Collection is a model type bound to a connection registry, carrying the
// synthesized operation set
type Collection[T any] struct {
	conns *docstore.Connections
	cfg   metadata.Config
	typ   reflect.Type
	desc  *metadata.Descriptor
}

// Bind binds the model type T to a connection registry. Binding never
// touches the store; database and collection names are validated on first
// data operation.
func Bind[T any](conns *docstore.Connections, options ...Option) (*Collection[T], error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	desc, err := metadata.Of(typ)
	if err != nil {
		return nil, err
	}
	var cfg metadata.Config
	for _, option := range options {
		option(&cfg)
	}
	return &Collection[T]{conns: conns, cfg: cfg, typ: typ, desc: desc}, nil
}

// MustBind is Bind that panics on a broken model type. Intended for
// package-level bindings where that is a programmer error.
func MustBind[T any](conns *docstore.Connections, options ...Option) *Collection[T] {
	c, err := Bind[T](conns, options...)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the model's type name, used in errors and logs
func (c *Collection[T]) Name() string {
	return c.typ.Name()
}

// Config returns the binding's configuration
func (c *Collection[T]) Config() metadata.Config {
	return c.cfg
}

// Descriptor returns the model's metadata descriptor
func (c *Collection[T]) Descriptor() *metadata.Descriptor {
	return c.desc
}

// DatabaseName returns the configured database name
func (c *Collection[T]) DatabaseName() string {
	return c.cfg.Database
}

// CollectionName returns the configured collection name
func (c *Collection[T]) CollectionName() string {
	return c.cfg.Collection
}

// Store resolves the configured database against the connection registry.
// This is where the lazy configuration validation happens.
func (c *Collection[T]) Store() (docstore.Store, error) {
	if c.cfg.Database == "" {
		return nil, fmt.Errorf("%w: %s has no database name", ErrConfiguration, c.Name())
	}
	if c.cfg.Collection == "" {
		return nil, fmt.Errorf("%w: %s has no collection name", ErrConfiguration, c.Name())
	}
	store, ok := c.conns.Lookup(c.cfg.Database)
	if !ok {
		return nil, fmt.Errorf("%w: %s configured for %q", ErrDatabaseNotFound, c.Name(), c.cfg.Database)
	}
	return store, nil
}

// ID returns the instance's identity. Models without an identity field
// always report the zero identity.
func (c *Collection[T]) ID(m *T) core.ID {
	field, ok := c.desc.FieldByName(c.desc.Identity)
	if !ok {
		return core.ID{}
	}
	return reflect.ValueOf(m).Elem().FieldByIndex(field.Index).Interface().(core.ID)
}

// SetID assigns the instance's identity
func (c *Collection[T]) SetID(m *T, id core.ID) {
	field, ok := c.desc.FieldByName(c.desc.Identity)
	if !ok {
		return
	}
	reflect.ValueOf(m).Elem().FieldByIndex(field.Index).Set(reflect.ValueOf(id))
}

// ToDB marshals the instance into its database representation
func (c *Collection[T]) ToDB(m *T) (*core.Doc, error) {
	return mapper.ToExternal(m, metadata.RepDB, c.cfg.Promiscuous)
}

// ToJSON marshals the instance into its wire representation
func (c *Collection[T]) ToJSON(m *T) (*core.Doc, error) {
	return mapper.ToExternal(m, metadata.RepJSON, c.cfg.Promiscuous)
}

// ToJSONString marshals the instance into a wire JSON string
func (c *Collection[T]) ToJSONString(m *T) (string, error) {
	doc, err := c.ToJSON(m)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromDB reconstructs an instance from a database document. A nil document
// yields a nil instance, not an error.
func (c *Collection[T]) FromDB(doc *core.Doc) (*T, error) {
	return c.from(doc, metadata.RepDB)
}

// FromDBDocument reconstructs an instance from a stored plain document
func (c *Collection[T]) FromDBDocument(doc docstore.Document) (*T, error) {
	return c.from(core.DocFromMap(doc), metadata.RepDB)
}

// FromJSON reconstructs an instance from a wire document. A nil document
// yields a nil instance, not an error.
func (c *Collection[T]) FromJSON(doc *core.Doc) (*T, error) {
	return c.from(doc, metadata.RepJSON)
}

// ParseJSON reconstructs an instance from wire JSON bytes. JSON null and
// non-object payloads yield a nil instance; only malformed JSON is an error.
func (c *Collection[T]) ParseJSON(data []byte) (*T, error) {
	doc, err := core.ParseDoc(data)
	if err != nil {
		return nil, err
	}
	return c.FromJSON(doc)
}

func (c *Collection[T]) from(doc *core.Doc, rep metadata.Rep) (*T, error) {
	instance, err := mapper.FromExternal(doc, c.typ, rep)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, nil
	}
	return instance.(*T), nil
}

// FromJSONSlice reconstructs instances from a list of wire documents. The
// result is never nil.
func (c *Collection[T]) FromJSONSlice(list interface{}) ([]*T, error) {
	return c.fromSlice(list, metadata.RepJSON)
}

// FromDBSlice reconstructs instances from stored plain documents. The
// result is never nil.
func (c *Collection[T]) FromDBSlice(docs []docstore.Document) ([]*T, error) {
	list := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		list = append(list, core.DocFromMap(doc))
	}
	return c.fromSlice(list, metadata.RepDB)
}

func (c *Collection[T]) fromSlice(list interface{}, rep metadata.Rep) ([]*T, error) {
	instances, err := mapper.FromExternalSlice(list, c.typ, rep)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(instances))
	for _, instance := range instances {
		if instance == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, instance.(*T))
	}
	return out, nil
}

// FromJSONAsChangeSet resolves a wire document into a property-keyed change
// set without claiming instance identity, for partial updates
func (c *Collection[T]) FromJSONAsChangeSet(doc *core.Doc) (map[string]interface{}, error) {
	return mapper.ChangeSet(doc, c.typ, metadata.RepJSON)
}

// Create persists the instance as a new document, assigning a fresh
// identity if the instance has none
func (c *Collection[T]) Create(ctx context.Context, m *T) error {
	store, err := c.Store()
	if err != nil {
		return err
	}
	if c.ID(m).IsZero() {
		c.SetID(m, core.NewID())
	}
	doc, err := c.ToDB(m)
	if err != nil {
		return err
	}
	_, err = store.InsertOne(ctx, c.cfg.Collection, doc.Map())
	if err != nil {
		return err
	}
	logger.ForOperation(ctx, c.Name(), string(core.OperationCreate)).
		Debugln("created", c.ID(m))
	return nil
}

// Save performs a partial update. With a change set, only those fields are
// written, translated through the database alias table, and the instance is
// synchronized with the applied changes on success; without one the full
// instance is written.
func (c *Collection[T]) Save(ctx context.Context, m *T, changes map[string]interface{}) error {
	store, err := c.Store()
	if err != nil {
		return err
	}
	id := c.ID(m)
	if id.IsZero() {
		return fmt.Errorf("%w: cannot save %s", ErrIdentifierMissing, c.Name())
	}

	var set docstore.Document
	if changes == nil {
		doc, err := c.ToDB(m)
		if err != nil {
			return err
		}
		set = doc.Map()
		delete(set, "_id")
	} else {
		set = translateChangeSet(changes, c.desc)
	}

	_, err = store.UpdateOne(ctx, c.cfg.Collection, c.identityFilter(id), set)
	if err != nil {
		return err
	}
	if changes != nil {
		if err := mapper.ApplyChangeSet(m, changes); err != nil {
			return err
		}
	}
	logger.ForOperation(ctx, c.Name(), string(core.OperationSave)).
		Debugln("saved", id)
	return nil
}

// translateChangeSet turns property-keyed changes into database field
// names, recursing into nested change sets through the nested model's own
// table. Properties the model does not declare are dropped.
func translateChangeSet(changes map[string]interface{}, desc *metadata.Descriptor) docstore.Document {
	table := desc.Table(metadata.RepDB)
	set := docstore.Document{}
	for property, value := range changes {
		if property == desc.Identity {
			continue
		}
		if _, ok := desc.FieldByName(property); !ok {
			continue
		}
		external := property
		if alias, ok := table.External(property); ok {
			external = alias
		}
		if nestedType, ok := desc.Nested(property); ok {
			var nestedChanges map[string]interface{}
			switch t := value.(type) {
			case map[string]interface{}:
				nestedChanges = t
			case *core.Doc:
				nestedChanges = t.Map()
			}
			if nestedChanges == nil {
				continue
			}
			if nestedDesc, err := metadata.Of(nestedType); err == nil {
				set[external] = map[string]interface{}(translateChangeSet(nestedChanges, nestedDesc))
			}
			continue
		}
		if doc, ok := value.(*core.Doc); ok {
			value = doc.Map()
		}
		set[external] = value
	}
	return set
}

// Remove deletes the instance's document
func (c *Collection[T]) Remove(ctx context.Context, m *T) (int64, error) {
	id := c.ID(m)
	if id.IsZero() {
		return 0, fmt.Errorf("%w: cannot remove %s", ErrIdentifierMissing, c.Name())
	}
	return c.RemoveByID(ctx, id)
}

// RemoveByID deletes one document by identity
func (c *Collection[T]) RemoveByID(ctx context.Context, id core.ID) (int64, error) {
	store, err := c.Store()
	if err != nil {
		return 0, err
	}
	result, err := store.DeleteOne(ctx, c.cfg.Collection, c.identityFilter(id))
	if err != nil {
		return 0, err
	}
	logger.ForOperation(ctx, c.Name(), string(core.OperationRemoveByID)).
		Debugln("removed", id)
	return result.DeletedCount, nil
}

// RemoveAll deletes every document matching the filter. An empty filter
// clears the collection.
func (c *Collection[T]) RemoveAll(ctx context.Context, filter docstore.Filter) (int64, error) {
	store, err := c.Store()
	if err != nil {
		return 0, err
	}
	result, err := store.DeleteMany(ctx, c.cfg.Collection, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// Get returns all instances matching the filter
func (c *Collection[T]) Get(ctx context.Context, filter docstore.Filter) ([]*T, error) {
	cursor, err := c.GetCursor(ctx, filter)
	if err != nil {
		return nil, err
	}
	docs, err := cursor.All(ctx)
	if err != nil {
		return nil, err
	}
	return c.FromDBSlice(docs)
}

// GetOne returns the first instance matching the filter, or nil when
// nothing matches
func (c *Collection[T]) GetOne(ctx context.Context, filter docstore.Filter) (*T, error) {
	store, err := c.Store()
	if err != nil {
		return nil, err
	}
	doc, err := store.FindOne(ctx, c.cfg.Collection, filter)
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.FromDBDocument(doc)
}

// GetByID returns the instance with the given identity, or nil
func (c *Collection[T]) GetByID(ctx context.Context, id core.ID) (*T, error) {
	return c.GetOne(ctx, c.identityFilter(id))
}

// GetCursor returns a raw document cursor over the filter matches
func (c *Collection[T]) GetCursor(ctx context.Context, filter docstore.Filter) (docstore.Cursor, error) {
	store, err := c.Store()
	if err != nil {
		return nil, err
	}
	return store.Find(ctx, c.cfg.Collection, filter)
}

// GetCursorByID returns a raw document cursor constrained to one identity
func (c *Collection[T]) GetCursorByID(ctx context.Context, id core.ID) (docstore.Cursor, error) {
	return c.GetCursor(ctx, c.identityFilter(id))
}

func (c *Collection[T]) identityFilter(id core.ID) docstore.Filter {
	return docstore.Filter{"_id": id.String()}
}

// SanitizeFilter translates a wire-side filter document into a database
// filter: wire field names become database field names, keys that resolve
// to nothing are dropped. Nested documents are translated through the
// nested model's own tables. This is what keeps query parameters from
// reaching the store unchecked.
func (c *Collection[T]) SanitizeFilter(doc *core.Doc) docstore.Filter {
	return sanitizeFilter(doc, c.desc)
}

func sanitizeFilter(doc *core.Doc, desc *metadata.Descriptor) docstore.Filter {
	filter := docstore.Filter{}
	if doc == nil {
		return filter
	}
	jsonTable := desc.Table(metadata.RepJSON)
	dbTable := desc.Table(metadata.RepDB)
	for _, key := range doc.Keys() {
		value, _ := doc.Get(key)

		if key == "id" || key == "_id" {
			filter["_id"] = core.ParseIDValue(value).String()
			continue
		}
		property, ok := jsonTable.Property(key)
		if !ok {
			if _, exists := desc.FieldByName(key); !exists {
				continue
			}
			property = key
		}
		if dbTable.Excluded(property) {
			continue
		}
		external := property
		if alias, ok := dbTable.External(property); ok {
			external = alias
		}
		if nestedType, ok := desc.Nested(property); ok {
			if nestedDoc, isDoc := value.(*core.Doc); isDoc {
				if nestedDesc, err := metadata.Of(nestedType); err == nil {
					filter[external] = map[string]interface{}(sanitizeFilter(nestedDoc, nestedDesc))
					continue
				}
			}
			continue
		}
		filter[external] = value
	}
	return filter
}
