package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// referenceField marks a serialized Reference: {"__ref": "<key>"}.
const referenceField = "__ref"

// Marshal encodes the fields of r into the self-describing JSON form used by
// the durable caches.
func Marshal(r *Record) ([]byte, error) {
	enc := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		enc[k] = encodeValue(v)
	}
	return json.Marshal(enc)
}

// Unmarshal decodes the output of Marshal into a record named key.
func Unmarshal(key string, data []byte) (*Record, error) {
	var raw map[string]any
	if err := decodeJSON(data, &raw); err != nil {
		return nil, fmt.Errorf("record: decode %q: %w", key, err)
	}
	r := &Record{Key: key, Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		r.Fields[k] = decodeValue(v)
	}
	return r, nil
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case Reference:
		return map[string]any{referenceField: t.Key}
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}

func decodeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if key, ok := t[referenceField].(string); ok {
				return Reference{Key: key}
			}
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = decodeValue(item)
		}
		return out
	default:
		return v
	}
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
