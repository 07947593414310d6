package transport

import "errors"

var (
	// ErrConnection indicates that the PLC could not be reached or closed the connection.
	ErrConnection = errors.New("transport: connection error")
	// ErrTimeout indicates that no complete reply line arrived before the read deadline.
	ErrTimeout = errors.New("transport: timeout")
	// ErrIO indicates a send on a transport that is not connected or a failed write.
	ErrIO = errors.New("transport: i/o error")

	// ErrInvalidTransition indicates a connection state change that is not allowed.
	ErrInvalidTransition = errors.New("transport: invalid state transition")
	// ErrLineTooLong indicates a reply line longer than the configured maximum.
	ErrLineTooLong = errors.New("transport: line too long")
)
