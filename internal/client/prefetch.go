package client

import "github.com/hanpama/graphcache/internal/operation"

// PrefetchCallback receives the outcome of a prefetch.
type PrefetchCallback interface {
	OnSuccess()
	OnFailure(error)
	OnCanceled()
}

// PrefetchFuncs implements PrefetchCallback with optional functions.
type PrefetchFuncs struct {
	Success  func()
	Failure  func(error)
	Canceled func()
}

func (f PrefetchFuncs) OnSuccess() {
	if f.Success != nil {
		f.Success()
	}
}

func (f PrefetchFuncs) OnFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

func (f PrefetchFuncs) OnCanceled() {
	if f.Canceled != nil {
		f.Canceled()
	}
}

// Prefetch fetches an operation from the network only to fill the cache.
type Prefetch struct {
	call *Call
}

func (p *Prefetch) Operation() *operation.Operation { return p.call.Operation() }
func (p *Prefetch) State() State                    { return p.call.State() }
func (p *Prefetch) Cancel()                         { p.call.Cancel() }
func (p *Prefetch) Clone() *Prefetch                { return &Prefetch{call: p.call.Clone()} }

// Enqueue starts the prefetch with the same single-execution rules as
// Call.Enqueue.
func (p *Prefetch) Enqueue(cb PrefetchCallback) error {
	if cb == nil {
		return p.call.Enqueue(nil)
	}
	return p.call.Enqueue(CallbackFuncs{
		Status: func(s Status) {
			if s == StatusCompleted {
				cb.OnSuccess()
			}
		},
		Failure:  cb.OnFailure,
		Canceled: cb.OnCanceled,
	})
}
