package plcsim

// Fault is a misbehaviour injected into replies for a channel.
type Fault uint8

const (
	// FaultNone answers normally.
	FaultNone Fault = iota
	// FaultMalformed answers with a line that does not parse.
	FaultMalformed
	// FaultSilent swallows the request without answering.
	FaultSilent
	// FaultDisconnect closes the connection instead of answering.
	FaultDisconnect
	// FaultError answers with a device error.
	FaultError
	// FaultWrongChannel answers for a different channel.
	FaultWrongChannel
	// FaultIgnoreWrite echoes the old value of an output without changing it.
	FaultIgnoreWrite
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultMalformed:
		return "malformed"
	case FaultSilent:
		return "silent"
	case FaultDisconnect:
		return "disconnect"
	case FaultError:
		return "error"
	case FaultWrongChannel:
		return "wrong_channel"
	case FaultIgnoreWrite:
		return "ignore_write"
	default:
		return "unknown"
	}
}

// AnyChannel matches every channel in InjectFault.
const AnyChannel = "*"

type faultRule struct {
	fault Fault
	// remaining is the number of requests left to fault; negative means forever.
	remaining int
}
