package record

import "errors"

// Fatal-to-start errors returned by Session.Start. The session stays Idle on
// any of them; the caller decides whether to retry or discard the session.
var (
	ErrWriterOpen = errors.New("record writer open failed")
	ErrBusAttach  = errors.New("bus attach failed")
	ErrReconcile  = errors.New("channel reconciliation failed")
)

// Lifecycle errors.
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
)
