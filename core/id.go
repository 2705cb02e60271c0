package core

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ID is a document identifier. Values that parse as UUIDs are held in
// canonical UUID form, anything else is held verbatim as a string. The zero
// value means "unset".
type ID struct {
	uu  uuid.UUID
	raw string
}

// NewID generates a fresh UUID identifier
func NewID() ID {
	return ID{uu: uuid.New()}
}

// ParseID parses a string identifier. UUID-formatted strings are normalized
// to their canonical form, so two spellings of the same UUID compare equal.
func ParseID(s string) ID {
	if s == "" {
		return ID{}
	}
	if uu, err := uuid.Parse(s); err == nil {
		return ID{uu: uu}
	}
	return ID{raw: s}
}

// ParseIDValue normalizes an identifier from any of the representations it
// travels in: ID, uuid.UUID, or string. Anything else is stringified.
func ParseIDValue(v interface{}) ID {
	switch t := v.(type) {
	case nil:
		return ID{}
	case ID:
		return t
	case uuid.UUID:
		return ID{uu: t}
	case string:
		return ParseID(t)
	default:
		return ParseID(fmt.Sprintf("%v", t))
	}
}

// IsZero reports whether the identifier is unset
func (id ID) IsZero() bool {
	return id.raw == "" && id.uu == uuid.Nil
}

// UUID returns the identifier's UUID form, if it has one
func (id ID) UUID() (uuid.UUID, bool) {
	if id.uu == uuid.Nil {
		return uuid.Nil, false
	}
	return id.uu, true
}

func (id ID) String() string {
	if id.uu != uuid.Nil {
		return id.uu.String()
	}
	return id.raw
}

// MarshalJSON emits the identifier as a JSON string
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts a JSON string identifier
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = ParseID(s)
	return nil
}
