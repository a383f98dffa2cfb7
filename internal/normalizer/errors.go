package normalizer

import (
	"errors"
	"fmt"
)

// ErrCacheMiss is matched by every MissError.
var ErrCacheMiss = errors.New("cache miss")

// MissError reports the record or field that could not be found while
// reading a response from the cache.
type MissError struct {
	Key   string
	Field string
}

func (e *MissError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cache miss: record %q", e.Key)
	}
	return fmt.Sprintf("cache miss: field %q of record %q", e.Field, e.Key)
}

func (e *MissError) Unwrap() error { return ErrCacheMiss }

// CorruptionError reports a list holding a reference to a record that no
// longer exists. The cache was modified out of band and the read must not
// produce a partial result.
type CorruptionError struct {
	Key     string
	Field   string
	Missing string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache corrupted: %s.%s references missing record %q", e.Key, e.Field, e.Missing)
}
