package client

import "errors"

var (
	// ErrAlreadyExecuted is returned by a second Enqueue on the same call.
	ErrAlreadyExecuted = errors.New("client: already executed")
	// ErrCanceled is returned by Enqueue on a canceled call.
	ErrCanceled = errors.New("client: canceled")
	// ErrIllegalState is returned by Refetch on a watcher that is not active.
	ErrIllegalState = errors.New("client: illegal state")
	// ErrSubscriptionUnsupported rejects subscription operations.
	ErrSubscriptionUnsupported = errors.New("client: subscriptions are not supported")
	ErrClosed                  = errors.New("client: closed")
)
