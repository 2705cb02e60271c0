/*
Package metadata maintains per-type descriptor tables for model structs.

A descriptor records, for every exported field, how the field appears in the
two external representations (database and wire), whether it is private, and
whether it holds a nested model. Descriptors are built from struct tags on
first use and cached per type; the registration API can amend them for
configurations tags cannot express. Registration is last-write-wins per key,
duplicate registrations are not an error.
*/
package metadata

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/morpho-tech/morpho/core"
)

// ErrModelComposition is returned for invalid metadata registrations, such
// as a nested-model reference that is not a constructible struct type.
var ErrModelComposition = fmt.Errorf("invalid model composition")

// Rep selects one of the two external representations
type Rep int

// the two external representations
const (
	RepDB Rep = iota
	RepJSON
)

func (r Rep) String() string {
	if r == RepDB {
		return "db"
	}
	return "json"
}

// IdentityExternal returns the identity field's external key for this
// representation: "_id" for the database, "id" for the wire.
func (r Rep) IdentityExternal() string {
	if r == RepDB {
		return "_id"
	}
	return "id"
}

// Table is one representation's alias table. It keeps two last-write-wins
// maps, property name to external key and external key to property name,
// plus the set of properties excluded from the representation entirely.
type Table struct {
	propertyToExternal map[string]string
	externalToProperty map[string]string
	excluded           map[string]bool
}

// NewTable creates an empty alias table
func NewTable() *Table {
	return &Table{
		propertyToExternal: map[string]string{},
		externalToProperty: map[string]string{},
		excluded:           map[string]bool{},
	}
}

// RegisterAlias records that property is externally known as external.
// Later registrations overwrite earlier ones per map key.
func (t *Table) RegisterAlias(property, external string) {
	t.propertyToExternal[property] = external
	t.externalToProperty[external] = property
}

// RegisterExcluded removes a property from this representation, regardless
// of promiscuous mode
func (t *Table) RegisterExcluded(property string) {
	t.excluded[property] = true
}

// External resolves a property name to its external key
func (t *Table) External(property string) (string, bool) {
	e, ok := t.propertyToExternal[property]
	return e, ok
}

// Property resolves an external key to its property name
func (t *Table) Property(external string) (string, bool) {
	p, ok := t.externalToProperty[external]
	return p, ok
}

// Excluded reports whether the property is excluded from this representation
func (t *Table) Excluded(property string) bool {
	return t.excluded[property]
}

// PrivacyRule decides whether a property marked private is still visible in
// external representations. Either a literal boolean, or the name of a
// zero-argument boolean method evaluated against the instance at marshal
// time. A truthy evaluation keeps the property, a falsy one withholds it; a
// property without a rule is always visible.
type PrivacyRule struct {
	Literal bool
	Method  string
}

// Field describes one marshallable property of a model struct
type Field struct {
	// Name is the property name, the Go field name
	Name string
	// Index is the reflect field index path; promoted fields from embedded
	// structs have a path longer than one
	Index []int
	// Type is the field's Go type
	Type reflect.Type
	// Decorated reports whether the field carries any field-level tag. Only
	// decorated fields (plus the identity) are marshalled in chaste mode.
	Decorated bool
}

// Descriptor is the accumulated metadata of one model struct type
type Descriptor struct {
	Type reflect.Type

	db      *Table
	json    *Table
	fields  []Field
	byName  map[string]int
	privacy map[string]PrivacyRule
	nested  map[string]reflect.Type

	// Identity is the property name of the core.ID identity field, or ""
	Identity string
}

var descriptorCache sync.Map // reflect.Type -> *Descriptor

// Of returns the descriptor for a model struct type, building and caching it
// on first use. Pointer types are resolved to their element type.
func Of(t reflect.Type) (*Descriptor, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct type", ErrModelComposition, t)
	}
	if cached, ok := descriptorCache.Load(t); ok {
		return cached.(*Descriptor), nil
	}
	d, err := build(t)
	if err != nil {
		return nil, err
	}
	actual, _ := descriptorCache.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

// MustOf is Of for values; it panics on composition errors. Intended for
// package-level model registration where a broken tag is a programmer error.
func MustOf(prototype interface{}) *Descriptor {
	d, err := Of(reflect.TypeOf(prototype))
	if err != nil {
		panic(err)
	}
	return d
}

var (
	idType   = reflect.TypeOf(core.ID{})
	timeType = reflect.TypeOf(time.Time{})
)

func build(t reflect.Type) (*Descriptor, error) {
	d := &Descriptor{
		Type:    t,
		db:      NewTable(),
		json:    NewTable(),
		byName:  map[string]int{},
		privacy: map[string]PrivacyRule{},
		nested:  map[string]reflect.Type{},
	}
	if err := d.addFields(t, nil); err != nil {
		return nil, err
	}
	if d.Identity != "" {
		d.db.RegisterAlias(d.Identity, RepDB.IdentityExternal())
		d.json.RegisterAlias(d.Identity, RepJSON.IdentityExternal())
	}
	return d, nil
}

func (d *Descriptor) addFields(t reflect.Type, path []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" && !sf.Anonymous { // unexported, not embedded
			continue
		}
		index := append(append([]int{}, path...), i)
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && sf.Tag == "" {
			// flatten embedded structs, the model.Base pattern
			if err := d.addFields(sf.Type, index); err != nil {
				return err
			}
			continue
		}

		field := Field{Name: sf.Name, Index: index, Type: sf.Type}

		if sf.Name == "ID" && sf.Type == idType {
			if d.Identity == "" {
				d.Identity = sf.Name
			}
			d.byName[sf.Name] = len(d.fields)
			d.fields = append(d.fields, field)
			continue
		}

		dbTag, hasDB := sf.Tag.Lookup("db")
		jsonTag, hasJSON := sf.Tag.Lookup("json")
		privateTag, hasPrivate := sf.Tag.Lookup("private")
		field.Decorated = hasDB || hasJSON || hasPrivate

		if hasDB {
			if name := tagName(dbTag); name == "-" {
				d.db.RegisterExcluded(sf.Name)
			} else if name != "" {
				d.db.RegisterAlias(sf.Name, name)
			}
		}
		if hasJSON {
			if name := tagName(jsonTag); name == "-" {
				d.json.RegisterExcluded(sf.Name)
			} else if name != "" {
				d.json.RegisterAlias(sf.Name, name)
			}
		}
		if hasPrivate {
			switch privateTag {
			case "", "false":
				// unconditionally private
				d.privacy[sf.Name] = PrivacyRule{Literal: false}
			case "true":
				d.privacy[sf.Name] = PrivacyRule{Literal: true}
			default:
				d.privacy[sf.Name] = PrivacyRule{Method: privateTag}
			}
		}

		if nt := nestedType(sf.Type); nt != nil {
			d.nested[sf.Name] = nt
		}

		d.byName[sf.Name] = len(d.fields)
		d.fields = append(d.fields, field)
	}
	return nil
}

// nestedType returns the struct type a field value must be reconstructed
// into, or nil if the field is a leaf
func nestedType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t == idType || t == timeType {
		return nil
	}
	return t
}

func tagName(tag string) string {
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i]
		}
	}
	return tag
}

// Table returns the alias table of the requested representation
func (d *Descriptor) Table(rep Rep) *Table {
	if rep == RepDB {
		return d.db
	}
	return d.json
}

// Fields returns the descriptor's fields in declaration order
func (d *Descriptor) Fields() []Field {
	return d.fields
}

// FieldByName resolves a property name
func (d *Descriptor) FieldByName(name string) (Field, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}

// Privacy returns the privacy rule registered for the property
func (d *Descriptor) Privacy(property string) (PrivacyRule, bool) {
	r, ok := d.privacy[property]
	return r, ok
}

// Nested returns the nested-model type registered for the property
func (d *Descriptor) Nested(property string) (reflect.Type, bool) {
	t, ok := d.nested[property]
	return t, ok
}

// RegisterAlias records an external key for the property in the given
// representation. This is the programmatic counterpart of the db/json tags.
func (d *Descriptor) RegisterAlias(rep Rep, property, external string) {
	d.Table(rep).RegisterAlias(property, external)
	d.markDecorated(property)
}

// RegisterPrivacy marks the property private with a literal visibility
// decision: true keeps the property visible, false withholds it
func (d *Descriptor) RegisterPrivacy(property string, visible bool) {
	d.privacy[property] = PrivacyRule{Literal: visible}
	d.markDecorated(property)
}

// RegisterPrivacyFunc marks the property private with a named zero-argument
// boolean method evaluated against the instance at marshal time. A true
// return keeps the property visible.
func (d *Descriptor) RegisterPrivacyFunc(property, method string) {
	d.privacy[property] = PrivacyRule{Method: method}
	d.markDecorated(property)
}

// RegisterNested records that the property must be reconstructed through the
// given struct type rather than assigned raw
func (d *Descriptor) RegisterNested(property string, t reflect.Type) error {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("%w: nested model for %s.%s must be a struct type",
			ErrModelComposition, d.Type.Name(), property)
	}
	d.nested[property] = t
	return nil
}

func (d *Descriptor) markDecorated(property string) {
	if i, ok := d.byName[property]; ok {
		d.fields[i].Decorated = true
	}
}

// Config is the model-level configuration that accompanies a descriptor:
// where instances persist, and which synthesized operations exist.
type Config struct {
	// Database is the connection-registry name of the database
	Database string
	// Collection is the document collection name
	Collection string
	// Promiscuous marshals every non-excluded property; the default chaste
	// mode marshals only decorated properties plus the identity
	Promiscuous bool
	// Suppressed operations are neither synthesized nor routed
	Suppressed map[core.Operation]bool
	// SchemaID selects a JSON schema incoming wire payloads are validated
	// against, if a validator is configured
	SchemaID string
}

// Suppresses reports whether the operation is suppressed
func (c Config) Suppresses(op core.Operation) bool {
	return c.Suppressed[op]
}
