package depth

import (
	"errors"

	"github.com/arloliu/go-ieb/transport"
)

var (
	// ErrConnection indicates that the counter could not be reached or stopped answering.
	ErrConnection = transport.ErrConnection
	// ErrProtocol indicates a reply that does not parse or names another channel.
	ErrProtocol = errors.New("depth: protocol error")
)
