package store

import (
	"encoding/json"
	"fmt"

	"github.com/netrunner/regfeed/internal/ir"
)

// marshalValue converts an entry value to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON so identical values store identical bytes.
func marshalValue(v ir.IRObject) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses stored TEXT back into an IRObject.
// Empty objects decode to nil so tombstones round-trip unchanged.
// Large integers survive through ir.IRObject.UnmarshalJSON.
func unmarshalValue(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" || data == "null" {
		return nil, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return obj, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
