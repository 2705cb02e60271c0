package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operation represents a synthesized model data operation
type Operation string

// all synthesizable model operations
const (
	OperationCreate        Operation = "create"
	OperationSave          Operation = "save"
	OperationRemove        Operation = "remove"
	OperationRemoveAll     Operation = "removeAll"
	OperationRemoveByID    Operation = "removeById"
	OperationGet           Operation = "get"
	OperationGetOne        Operation = "getOne"
	OperationGetByID       Operation = "getById"
	OperationGetCursor     Operation = "getCursor"
	OperationGetCursorByID Operation = "getCursorById"
	OperationGetCollection Operation = "getCollection"
	OperationGetDb         Operation = "getDb"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationSave, OperationRemove, OperationRemoveAll,
		OperationRemoveByID, OperationGet, OperationGetOne, OperationGetByID,
		OperationGetCursor, OperationGetCursorByID, OperationGetCollection,
		OperationGetDb:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// Plural derives the route segment for a singular resource name: a
// trailing "y" becomes "ies", everything else gets an "s" appended.
// Resources with irregular plurals should pick their route name
// explicitly.
func Plural(singular string) string {
	if strings.HasSuffix(singular, "y") {
		return singular[:len(singular)-1] + "ies"
	}
	return singular + "s"
}
