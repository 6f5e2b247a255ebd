// Package storeerrors defines the error kinds shared across the storage
// engine (record log, indexed files, live datastore, retention, cluster
// fan-out). Each kind is a sentinel that callers can match with
// errors.Is; wrapped context is added with fmt.Errorf("...: %w", kind).
package storeerrors

import "errors"

var (
	// ErrInvalidVariable is returned when a variable name or label set
	// fails to parse, or Record rejects a name outright.
	ErrInvalidVariable = errors.New("invalid variable")

	// ErrDecodeFailure marks a corrupt framed record or malformed
	// request body. Framed-record readers resynchronize past it; RPC
	// decoders turn it into a 400-class response.
	ErrDecodeFailure = errors.New("decode failure")

	// ErrIOFailure wraps a disk read/write error that aborted the
	// operation in progress without bringing down the process.
	ErrIOFailure = errors.New("io failure")

	// ErrNotFound marks an absent variable or an indexed file whose
	// header could not be read.
	ErrNotFound = errors.New("not found")

	// ErrNetworkFailure marks an unreachable cluster peer.
	ErrNetworkFailure = errors.New("network failure")

	// ErrConfigInvalid marks a configuration document that failed to
	// decode or validate; the caller should retain its previous config.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrShutdown is observed by background loops reacting to a
	// cancelled context; it is never returned to a client.
	ErrShutdown = errors.New("shutdown")
)
