package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"skylightcal/internal/skylight"
)

// attrs reads typed values out of a record's raw attribute map.
// JSON null is treated the same as an absent key.
type attrs map[string]json.RawMessage

func (a attrs) lookup(key string) (json.RawMessage, bool) {
	raw, ok := a[key]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

// requiredString returns a fieldError when key is absent or not a string.
func (a attrs) requiredString(key string) (string, error) {
	raw, ok := a.lookup(key)
	if !ok {
		return "", fieldError{field: key, reason: "missing"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fieldError{field: key, reason: fmt.Sprintf("expected string, got %s", kindOf(raw))}
	}
	return s, nil
}

func (a attrs) optString(key string) *string {
	raw, ok := a.lookup(key)
	if !ok {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return nil
	}
	return &s
}

// optID accepts string or numeric identifiers.
func (a attrs) optID(key string) *string {
	raw, ok := a.lookup(key)
	if !ok {
		return nil
	}
	var id skylight.ID
	if json.Unmarshal(raw, &id) != nil || id == "" {
		return nil
	}
	s := string(id)
	return &s
}

func (a attrs) optBool(key string) *bool {
	raw, ok := a.lookup(key)
	if !ok {
		return nil
	}
	var b bool
	if json.Unmarshal(raw, &b) != nil {
		return nil
	}
	return &b
}

func (a attrs) optFloat(key string) *float64 {
	raw, ok := a.lookup(key)
	if !ok {
		return nil
	}
	var f float64
	if json.Unmarshal(raw, &f) != nil {
		return nil
	}
	return &f
}

// stringSlice returns the string elements of an array attribute in order.
// Non-string elements are dropped; a non-array value yields nil.
func (a attrs) stringSlice(key string) []string {
	raw, ok := a.lookup(key)
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) == nil {
			out = append(out, s)
		}
	}
	return out
}

func (a attrs) raw(key string) json.RawMessage {
	raw, ok := a.lookup(key)
	if !ok {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func kindOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "nothing"
	}
	switch raw[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}
