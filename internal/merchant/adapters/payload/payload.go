// Package payload holds decoding helpers shared by the platform adapters.
package payload

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ID decodes identifiers that platforms send as either JSON numbers or strings.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Truthy reports whether a header or flag value means "on".
func Truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Uppercase trims and uppercases currency-like codes.
func Uppercase(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
