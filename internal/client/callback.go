package client

import (
	"github.com/hanpama/graphcache/internal/operation"
)

// State is the lifecycle of a call, watcher, or prefetch.
type State int

const (
	Idle State = iota
	Active
	Canceled
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Active:
		return "ACTIVE"
	case Canceled:
		return "CANCELED"
	default:
		return "TERMINATED"
	}
}

// Status reports the progress of an active call.
type Status int

const (
	StatusScheduled Status = iota
	StatusFetchCache
	StatusFetchNetwork
	StatusCompleted
)

func (s Status) String() string {
	return [...]string{"scheduled", "fetch-cache", "fetch-network", "completed"}[s]
}

// Callback receives the results of a call. Every enqueued call ends with
// exactly one of OnStatus(StatusCompleted), OnFailure or OnCanceled.
type Callback interface {
	OnResponse(*operation.Response)
	OnStatus(Status)
	OnFailure(error)
	OnCanceled()
}

// CallbackFuncs implements Callback with optional functions.
type CallbackFuncs struct {
	Response func(*operation.Response)
	Status   func(Status)
	Failure  func(error)
	Canceled func()
}

func (f CallbackFuncs) OnResponse(r *operation.Response) {
	if f.Response != nil {
		f.Response(r)
	}
}

func (f CallbackFuncs) OnStatus(s Status) {
	if f.Status != nil {
		f.Status(s)
	}
}

func (f CallbackFuncs) OnFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

func (f CallbackFuncs) OnCanceled() {
	if f.Canceled != nil {
		f.Canceled()
	}
}
