package interceptor

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDisposed = errors.New("interceptor: pipeline disposed")
	// ErrCacheRead wraps every failure of the cache leg.
	ErrCacheRead = errors.New("interceptor: cache read failed")
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// NetworkError is a transport failure: no response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError is a body that could not be decoded or normalized.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

type cacheReadError struct {
	err error
}

func (e *cacheReadError) Error() string { return ErrCacheRead.Error() + ": " + e.err.Error() }
func (e *cacheReadError) Unwrap() []error { return []error{ErrCacheRead, e.err} }
