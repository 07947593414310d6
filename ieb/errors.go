package ieb

import (
	"errors"

	"github.com/arloliu/go-ieb/codec"
	"github.com/arloliu/go-ieb/transport"
)

// Transport and codec errors are re-exported so callers only need this package.
var (
	// ErrConnection indicates that the PLC could not be reached, including after the automatic reconnect.
	ErrConnection = transport.ErrConnection
	// ErrTimeout indicates that the PLC did not answer in time.
	ErrTimeout = transport.ErrTimeout
	// ErrIO indicates a write on a dead socket.
	ErrIO = transport.ErrIO
	// ErrProtocol indicates a reply that does not parse or does not match the request.
	ErrProtocol = codec.ErrProtocol
	// ErrEncoding indicates an argument that is invalid for the channel.
	ErrEncoding = codec.ErrEncoding
)

var (
	// ErrActuationTimeout indicates that the confirming input never reached its terminal state.
	ErrActuationTimeout = errors.New("ieb: actuation timeout")
	// ErrPartialRead indicates that no environment channel could be read.
	ErrPartialRead = errors.New("ieb: partial read")
	// ErrInitialization indicates that the identity check failed at startup.
	ErrInitialization = errors.New("ieb: initialization failed")
	// ErrDevice indicates that the PLC rejected a request or reported a state other than the one written.
	ErrDevice = errors.New("ieb: device error")
	// ErrNotInitialized indicates an operation before Initialize or after Stop.
	ErrNotInitialized = errors.New("ieb: controller not initialized")
	// ErrUnknownChannel indicates a channel name missing from the channel table.
	ErrUnknownChannel = errors.New("ieb: unknown channel")
	// ErrUnknownGroup indicates a device group missing from the configuration.
	ErrUnknownGroup = errors.New("ieb: unknown device group")
	// ErrInvalidSide indicates a side other than left, right or both.
	ErrInvalidSide = errors.New("ieb: invalid side")
)

// errUnreachable marks a failure to re-establish the connection, as opposed to a
// failure of one exchange on a live link.
var errUnreachable = errors.New("ieb: plc unreachable")

// isTransportError reports whether err is eligible for the reconnect-and-retry policy.
func isTransportError(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrIO)
}
