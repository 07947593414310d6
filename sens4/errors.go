package sens4

import (
	"errors"

	"github.com/arloliu/go-ieb/transport"
)

var (
	// ErrConnection indicates that the gateway could not be reached or stopped answering.
	ErrConnection = transport.ErrConnection
	// ErrProtocol indicates a reply that does not parse or comes from another device.
	ErrProtocol = errors.New("sens4: protocol error")
	// ErrDevice indicates a NAK reply.
	ErrDevice = errors.New("sens4: device error")
	// ErrUnknownTransducer indicates a transducer name missing from the configuration.
	ErrUnknownTransducer = errors.New("sens4: unknown transducer")
	// ErrNoReading indicates that no transducer could be read.
	ErrNoReading = errors.New("sens4: no transducer could be read")
)
