// Package errs holds the sentinel error kinds shared across the discovery
// and transport cores, per the error handling design: network-level errors
// are logged and swallowed, session errors terminate only that session, and
// configuration errors are fatal at construction.
package errs

import "github.com/pkg/errors"

var (
	// ErrOperationCancelled is returned (or wraps a returned error) when a
	// caller-issued teardown aborted an in-flight operation.
	ErrOperationCancelled = errors.New("operation cancelled")

	// ErrInvalidQuery is returned synchronously when a query predicate does
	// not parse; no I/O is attempted.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrAlreadyRunning is returned when a resolver already committed to
	// one mode (one-shot or continuous) is asked to run in the other.
	ErrAlreadyRunning = errors.New("resolver already running in a different mode")

	// ErrProtocolError marks a malformed response datagram or TCP header.
	ErrProtocolError = errors.New("protocol error")

	// ErrVersionUnsupported is surfaced to a client as "505 Version not supported".
	ErrVersionUnsupported = errors.New("version not supported")

	// ErrUIDMismatch is surfaced to a client as "404 Not found".
	ErrUIDMismatch = errors.New("uid mismatch")

	// ErrTransport covers broken pipe, connection reset, and closed sockets.
	ErrTransport = errors.New("transport error")

	// ErrConfiguration is fatal at construction time: no acceptor could bind,
	// or neither address family is available.
	ErrConfiguration = errors.New("configuration error")
)
