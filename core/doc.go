package core

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// Doc is a JSON document with stable key order. It is the external
// representation used for both database and wire payloads: nested objects are
// *Doc values, arrays are []interface{} slices whose object elements are *Doc.
//
// Key order matters: when several external keys alias to the same model
// property, the key iterated last wins. Doc makes that order explicit instead
// of leaving it to map iteration.
type Doc struct {
	keys   []string
	values map[string]interface{}
}

// NewDoc creates an empty document
func NewDoc() *Doc {
	return &Doc{values: map[string]interface{}{}}
}

// DocFromMap converts a plain map into a document, recursively. Keys are
// ordered alphabetically on every level, which makes the conversion
// deterministic.
func DocFromMap(m map[string]interface{}) *Doc {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := NewDoc()
	for _, k := range keys {
		d.Set(k, fromMapValue(m[k]))
	}
	return d
}

func fromMapValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return DocFromMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = fromMapValue(t[i])
		}
		return out
	default:
		return v
	}
}

// Set stores a value under key. A new key is appended to the key order, an
// existing key keeps its position and only the value is replaced.
func (d *Doc) Set(key string, value interface{}) *Doc {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return d
}

// Get returns the value stored under key
func (d *Doc) Get(key string) (interface{}, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Delete removes key from the document. It reports whether the key existed.
func (d *Doc) Delete(key string) bool {
	if _, ok := d.values[key]; !ok {
		return false
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the document's keys in order
func (d *Doc) Keys() []string {
	keys := make([]string, len(d.keys))
	copy(keys, d.keys)
	return keys
}

// Len returns the number of keys
func (d *Doc) Len() int {
	return len(d.keys)
}

// Map converts the document into a plain map, recursively. The key order is
// lost; this is the form handed to document stores.
func (d *Doc) Map() map[string]interface{} {
	if d == nil {
		return nil
	}
	m := make(map[string]interface{}, len(d.keys))
	for _, k := range d.keys {
		m[k] = toMapValue(d.values[k])
	}
	return m
}

func toMapValue(v interface{}) interface{} {
	switch t := v.(type) {
	case *Doc:
		return t.Map()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = toMapValue(t[i])
		}
		return out
	default:
		return v
	}
}

// MarshalJSON emits the document's keys in order
func (d *Doc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object preserving the order in which its keys
// appear in the input
func (d *Doc) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("cannot unmarshal non-object into Doc")
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	d.keys = parsed.keys
	d.values = parsed.values
	return nil
}

// ParseDoc parses JSON data into a document. JSON null and non-object values
// yield a nil document without an error; only syntactically invalid input is
// an error.
func ParseDoc(data []byte) (*Doc, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		// still insist the input is well-formed JSON
		if len(trimmed) > 0 {
			var discard interface{}
			if err := json.Unmarshal(trimmed, &discard); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	d := NewDoc()
	if err := d.UnmarshalJSON(trimmed); err != nil {
		return nil, err
	}
	return d, nil
}

// decodeObject consumes tokens up to and including the matching '}'
func decodeObject(dec *json.Decoder) (*Doc, error) {
	d := NewDoc()
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if delim, ok := tok.(json.Delim); ok {
			if delim == '}' {
				return d, nil
			}
			return nil, fmt.Errorf("unexpected delimiter %v in object", delim)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		d.Set(key, value)
	}
}

func decodeArray(dec *json.Decoder) ([]interface{}, error) {
	list := []interface{}{}
	for {
		if !dec.More() {
			// consume the closing ']'
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		list = append(list, value)
	}
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); ok {
		switch delim {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", delim)
		}
	}
	return tok, nil
}
