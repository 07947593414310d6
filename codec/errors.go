package codec

import "errors"

var (
	// ErrEncoding indicates a command that cannot be represented on the wire.
	ErrEncoding = errors.New("codec: encoding error")
	// ErrProtocol indicates a malformed or mismatched frame.
	ErrProtocol = errors.New("codec: protocol error")
)
