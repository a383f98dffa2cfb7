package events

import (
	"net/http"
	"time"
)

// NetworkStart is emitted before an operation is sent to the server.
// Context carries the request id.
type NetworkStart struct {
	Request       *http.Request
	OperationName string
}

// NetworkFinish is emitted after the server answered or the transport
// failed. Status is zero on transport failure.
type NetworkFinish struct {
	Request       *http.Request
	OperationName string
	Status        int
	Err           error
	Duration      time.Duration
}

// HTTPRetry is emitted before a retried transport attempt.
type HTTPRetry struct {
	Request *http.Request
	Attempt int
	Status  int
	Wait    time.Duration
}
