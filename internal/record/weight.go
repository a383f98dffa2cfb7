package record

import "encoding/json"

// Size heuristics used by the bounded in-memory cache.
const (
	SizeOfRecordOverhead    = 16
	SizeOfContainerOverhead = 16
	SizeOfReferenceOverhead = 16
	SizeOfBoolean           = 16
	SizeOfNumber            = 32
	SizeOfNull              = 4
)

// Weight estimates the in-memory footprint of r in bytes.
func (r *Record) Weight() int {
	size := SizeOfRecordOverhead + len(r.Key)
	for k, v := range r.Fields {
		size += len(k) + weighValue(v)
	}
	return size
}

func weighValue(v any) int {
	switch t := v.(type) {
	case nil:
		return SizeOfNull
	case string:
		return len(t)
	case bool:
		return SizeOfBoolean
	case json.Number:
		if n := len(t); n > SizeOfNumber {
			return n
		}
		return SizeOfNumber
	case Reference:
		return SizeOfReferenceOverhead + len(t.Key)
	case []any:
		size := SizeOfContainerOverhead
		for _, item := range t {
			size += weighValue(item)
		}
		return size
	case map[string]any:
		size := SizeOfContainerOverhead
		for k, item := range t {
			size += len(k) + weighValue(item)
		}
		return size
	default:
		return SizeOfNumber
	}
}
