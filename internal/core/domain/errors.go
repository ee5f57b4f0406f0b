package domain

import "errors"

var (
	ErrVideoNotFound   = errors.New("video not found")
	ErrTransport       = errors.New("transport failure")
	ErrSourceRead      = errors.New("media source read failure")
	ErrStreamInFlight  = errors.New("a stream is in flight")
	ErrNotConnected    = errors.New("not connected")
	ErrClientClosed    = errors.New("client closed")
	ErrCatalogReadOnly = errors.New("catalog is read-only")
)

// FailureKind is one of the two user-visible failure categories.
type FailureKind string

const (
	FailureConnect FailureKind = "connect" // could not connect
	FailureStream  FailureKind = "stream"  // could not stream/play
)
