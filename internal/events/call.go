package events

import (
	"time"

	"github.com/google/uuid"
)

// CallStart is emitted when a call is enqueued.
// Context carries the request id.
type CallStart struct {
	RequestID     uuid.UUID
	OperationName string
	OperationType string
	FetchPolicy   string
}

// CallFinish is emitted once per call with its terminal outcome:
// "completed", "failed" or "canceled".
type CallFinish struct {
	RequestID     uuid.UUID
	OperationName string
	OperationType string
	Outcome       string
	Err           error
	Duration      time.Duration
}

// WatcherRefetch is emitted when a store change invalidates a watcher.
type WatcherRefetch struct {
	OperationName string
	ChangedKeys   int
}
