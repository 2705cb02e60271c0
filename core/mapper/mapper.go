/*
Package mapper converts between model struct instances and their external
document representations.

The conversion is driven entirely by the metadata descriptor of the struct
type: alias tables pick the external key names, privacy rules withhold
fields, chaste mode restricts marshalling to decorated fields, and nested
model registrations make the conversion recurse. The transformer re-reads
the descriptor on every call, so late registrations take effect without
rebuilding anything.
*/
package mapper

import (
	"fmt"
	"reflect"
	"time"

	"github.com/morpho-tech/morpho/core"
	"github.com/morpho-tech/morpho/core/metadata"
)

var (
	idType   = reflect.TypeOf(core.ID{})
	timeType = reflect.TypeOf(time.Time{})
)

// ToExternal converts an instance into the external representation selected
// by rep. In promiscuous mode every property is included, in chaste mode
// only decorated properties and the identity are. Privacy rules and
// per-representation exclusions are honored in both modes.
func ToExternal(instance interface{}, rep metadata.Rep, promiscuous bool) (*core.Doc, error) {
	rv, err := addressableStruct(instance)
	if err != nil {
		return nil, err
	}
	desc, err := metadata.Of(rv.Type())
	if err != nil {
		return nil, err
	}

	table := desc.Table(rep)
	out := core.NewDoc()
	for _, field := range desc.Fields() {
		fv := rv.FieldByIndex(field.Index)

		if field.Name == desc.Identity {
			id := fv.Interface().(core.ID)
			if !id.IsZero() {
				out.Set(rep.IdentityExternal(), id.String())
			}
			continue
		}
		if table.Excluded(field.Name) {
			continue
		}
		if rule, ok := desc.Privacy(field.Name); ok {
			visible, err := evaluatePrivacy(rv, field.Name, rule)
			if err != nil {
				return nil, err
			}
			if !visible {
				continue
			}
		}
		if !promiscuous && !field.Decorated {
			continue
		}

		external := field.Name
		if alias, ok := table.External(field.Name); ok {
			external = alias
		}
		value, err := externalValue(fv, rep, promiscuous)
		if err != nil {
			return nil, err
		}
		out.Set(external, value)
	}
	return out, nil
}

// externalValue converts one field value. Nested structs recurse with the
// parent's promiscuity; slices, maps, times and identifiers pass through as
// opaque leaves.
func externalValue(fv reflect.Value, rep metadata.Rep, promiscuous bool) (interface{}, error) {
	t := fv.Type()
	if t.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
		t = fv.Type()
	}
	if t.Kind() == reflect.Struct && t != timeType && t != idType {
		return ToExternal(fv.Interface(), rep, promiscuous)
	}
	return fv.Interface(), nil
}

// FromExternal reconstructs an instance of t from an external document. A
// nil document yields a nil result and no error; that is the contract, not
// a failure. The returned value is always a pointer to t otherwise.
//
// Document keys are processed in order, so when several keys alias to the
// same property the last one wins. Keys that resolve to neither an alias
// nor an existing property are dropped.
func FromExternal(doc *core.Doc, t reflect.Type, rep metadata.Rep) (interface{}, error) {
	if doc == nil {
		return nil, nil
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	desc, err := metadata.Of(t)
	if err != nil {
		return nil, err
	}

	out := reflect.New(t)
	rv := out.Elem()
	table := desc.Table(rep)
	for _, key := range doc.Keys() {
		raw, _ := doc.Get(key)

		if key == "id" || key == "_id" {
			if desc.Identity != "" {
				field, _ := desc.FieldByName(desc.Identity)
				rv.FieldByIndex(field.Index).Set(reflect.ValueOf(core.ParseIDValue(raw)))
			}
			continue
		}

		property, ok := table.Property(key)
		if !ok {
			if _, exists := desc.FieldByName(key); !exists {
				continue
			}
			property = key
		}
		field, ok := desc.FieldByName(property)
		if !ok {
			continue
		}
		fv := rv.FieldByIndex(field.Index)

		if nestedType, ok := desc.Nested(property); ok {
			nestedDoc, isDoc := raw.(*core.Doc)
			if !isDoc {
				// absent or malformed nested value: the default-constructed
				// nested object stays in place
				continue
			}
			nested, err := FromExternal(nestedDoc, nestedType, rep)
			if err != nil {
				return nil, err
			}
			assignNested(fv, reflect.ValueOf(nested))
			continue
		}
		assignLeaf(fv, raw)
	}
	return out.Interface(), nil
}

// FromExternalSlice applies FromExternal to every element of a list.
// Elements that are not objects yield nil entries, the same contract as
// FromExternal on a non-object. The result is never nil; absent or
// non-list input yields an empty slice.
func FromExternalSlice(list interface{}, t reflect.Type, rep metadata.Rep) ([]interface{}, error) {
	out := []interface{}{}
	elements, ok := list.([]interface{})
	if !ok {
		return out, nil
	}
	for _, element := range elements {
		doc, ok := element.(*core.Doc)
		if !ok {
			out = append(out, nil)
			continue
		}
		instance, err := FromExternal(doc, t, rep)
		if err != nil {
			return nil, err
		}
		out = append(out, instance)
	}
	return out, nil
}

// ChangeSet resolves a document's keys to property names without
// constructing an instance, for partial updates. Identity keys are dropped:
// a change set never moves a document to a new identity. Nested documents
// resolve recursively through the nested type's own tables, so a change
// set is property-keyed at every level and carries no representation of
// its own.
func ChangeSet(doc *core.Doc, t reflect.Type, rep metadata.Rep) (map[string]interface{}, error) {
	if doc == nil {
		return nil, nil
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	desc, err := metadata.Of(t)
	if err != nil {
		return nil, err
	}
	table := desc.Table(rep)
	out := map[string]interface{}{}
	for _, key := range doc.Keys() {
		if key == "id" || key == "_id" {
			continue
		}
		property, ok := table.Property(key)
		if !ok {
			if _, exists := desc.FieldByName(key); !exists {
				continue
			}
			property = key
		}
		raw, _ := doc.Get(key)
		if nestedType, isNested := desc.Nested(property); isNested {
			nestedDoc, isDoc := raw.(*core.Doc)
			if !isDoc {
				continue
			}
			nested, err := ChangeSet(nestedDoc, nestedType, rep)
			if err != nil {
				return nil, err
			}
			out[property] = nested
			continue
		}
		if nested, isDoc := raw.(*core.Doc); isDoc {
			out[property] = nested.Map()
		} else {
			out[property] = raw
		}
	}
	return out, nil
}

// ApplyChangeSet assigns property-keyed values onto an existing instance.
// Nested values are property-keyed change sets themselves and are applied
// recursively, so fields absent from a nested change keep their current
// value; unknown properties are ignored. This is how a saved change set is
// synchronized back onto the instance.
func ApplyChangeSet(instance interface{}, changes map[string]interface{}) error {
	rv, err := addressableStruct(instance)
	if err != nil {
		return err
	}
	desc, err := metadata.Of(rv.Type())
	if err != nil {
		return err
	}
	for property, value := range changes {
		field, ok := desc.FieldByName(property)
		if !ok {
			continue
		}
		fv := rv.FieldByIndex(field.Index)
		if _, ok := desc.Nested(property); ok {
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
			if fv.Kind() == reflect.Ptr {
				if fv.IsNil() {
					fv.Set(reflect.New(fv.Type().Elem()))
				}
				fv = fv.Elem()
			}
			if err := ApplyChangeSet(fv.Addr().Interface(), nestedChanges); err != nil {
				return err
			}
			continue
		}
		assignLeaf(fv, value)
	}
	return nil
}

// addressableStruct normalizes an instance to an addressable struct value,
// so privacy predicate methods with pointer receivers can be invoked
func addressableStruct(instance interface{}) (reflect.Value, error) {
	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("cannot marshal nil instance")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("cannot marshal %s, need a struct", rv.Kind())
	}
	if !rv.CanAddr() {
		copied := reflect.New(rv.Type())
		copied.Elem().Set(rv)
		rv = copied.Elem()
	}
	return rv, nil
}

// evaluatePrivacy decides visibility for one property. Named predicate
// methods are looked up on the pointer receiver first and must return a
// bool as their first result.
func evaluatePrivacy(rv reflect.Value, property string, rule metadata.PrivacyRule) (bool, error) {
	if rule.Method == "" {
		return rule.Literal, nil
	}
	method := rv.Addr().MethodByName(rule.Method)
	if !method.IsValid() {
		method = rv.MethodByName(rule.Method)
	}
	if !method.IsValid() {
		return false, fmt.Errorf("%w: privacy predicate %s.%s does not exist",
			metadata.ErrModelComposition, rv.Type().Name(), rule.Method)
	}
	mt := method.Type()
	if mt.NumIn() != 0 || mt.NumOut() < 1 || mt.Out(0).Kind() != reflect.Bool {
		return false, fmt.Errorf("%w: privacy predicate %s.%s must be func() bool",
			metadata.ErrModelComposition, rv.Type().Name(), rule.Method)
	}
	return method.Call(nil)[0].Bool(), nil
}

// assignNested stores a reconstructed nested instance (always a pointer)
// into a struct or pointer field
func assignNested(fv reflect.Value, nested reflect.Value) {
	if fv.Kind() == reflect.Ptr {
		if nested.Type().AssignableTo(fv.Type()) {
			fv.Set(nested)
		}
		return
	}
	if nested.Elem().Type().AssignableTo(fv.Type()) {
		fv.Set(nested.Elem())
	}
}

// assignLeaf stores a raw external value into a leaf field, converting the
// shapes JSON decoding produces. Values that cannot be represented in the
// field's type are dropped.
func assignLeaf(fv reflect.Value, raw interface{}) {
	if raw == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return
	}
	if fv.Kind() == reflect.Ptr {
		target := reflect.New(fv.Type().Elem())
		assignLeaf(target.Elem(), raw)
		fv.Set(target)
		return
	}

	if fv.Type() == idType {
		fv.Set(reflect.ValueOf(core.ParseIDValue(raw)))
		return
	}
	if fv.Type() == timeType {
		switch t := raw.(type) {
		case time.Time:
			fv.Set(reflect.ValueOf(t))
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				fv.Set(reflect.ValueOf(parsed))
			}
		}
		return
	}

	rawValue := reflect.ValueOf(raw)
	switch {
	case rawValue.Type().AssignableTo(fv.Type()):
		fv.Set(rawValue)
	case rawValue.Kind() == reflect.Float64 && isNumeric(fv.Kind()):
		// JSON numbers decode as float64
		fv.Set(rawValue.Convert(fv.Type()))
	case rawValue.Kind() == reflect.Slice && fv.Kind() == reflect.Slice:
		length := rawValue.Len()
		slice := reflect.MakeSlice(fv.Type(), length, length)
		for i := 0; i < length; i++ {
			element := rawValue.Index(i).Interface()
			assignLeaf(slice.Index(i), element)
		}
		fv.Set(slice)
	case rawValue.Type().ConvertibleTo(fv.Type()) && rawValue.Kind() == fv.Kind():
		fv.Set(rawValue.Convert(fv.Type()))
	}
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
