package events

import "time"

// CacheRead is emitted after an operation or fragment is read from the store.
type CacheRead struct {
	Key      string
	Hit      bool
	Err      error
	Duration time.Duration
}

// CacheMerge is emitted after records are merged into the store.
type CacheMerge struct {
	Records     int
	ChangedKeys int
	Optimistic  bool
	Err         error
	Duration    time.Duration
}
