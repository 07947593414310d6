package codec

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the static type of a PLC channel.
type Kind uint8

// Channel kinds.
const (
	// KindUnknown is the zero Kind and is never valid in a channel table.
	KindUnknown Kind = iota
	// KindDigitalOut is a relay or motor drive output. Readable and writable.
	KindDigitalOut
	// KindDigitalIn is a limit switch or status input.
	KindDigitalIn
	// KindAnalogIn is an environmental sensor such as an RTD or humidity sensor.
	KindAnalogIn
	// KindAnalogOut is a set-point output. Readable and writable.
	KindAnalogOut
	// KindIdentity is a read-only text channel carrying the PLC signature.
	KindIdentity
)

var kindNames = map[Kind]string{
	KindDigitalOut: "digital_out",
	KindDigitalIn:  "digital_in",
	KindAnalogIn:   "analog_in",
	KindAnalogOut:  "analog_out",
	KindIdentity:   "identity",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind parses the names returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("codec: unknown channel kind %q", s)
}

// Digital reports whether values of the kind are booleans.
func (k Kind) Digital() bool {
	return k == KindDigitalOut || k == KindDigitalIn
}

// Analog reports whether values of the kind are numbers.
func (k Kind) Analog() bool {
	return k == KindAnalogIn || k == KindAnalogOut
}

// Writable reports whether the kind accepts writes.
func (k Kind) Writable() bool {
	return k == KindDigitalOut || k == KindAnalogOut
}

// Operation is the verb of a Command.
type Operation uint8

// Operations.
const (
	// OpRead reads one channel.
	OpRead Operation = iota + 1
	// OpWriteDigital sets a digital output.
	OpWriteDigital
	// OpWriteAnalog sets an analog output.
	OpWriteAnalog
)

// String returns the wire mnemonic of the operation.
func (o Operation) String() string {
	switch o {
	case OpRead:
		return "RD"
	case OpWriteDigital:
		return "WD"
	case OpWriteAnalog:
		return "WA"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Range is an inclusive bound for analog output values.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies within r.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Channel is the wire-level description of a PLC channel.
type Channel struct {
	Name string
	Kind Kind
	// Unit is the expected unit token of analog replies, empty to accept any.
	Unit string
	// Range optionally bounds analog writes.
	Range *Range
}

// Command is a single request to the PLC.
type Command struct {
	ID       uuid.UUID
	Channel  Channel
	Op       Operation
	Arg      Value
	Deadline time.Time
}

// NewRead creates a read command for ch.
func NewRead(ch Channel) Command {
	return Command{ID: uuid.New(), Channel: ch, Op: OpRead}
}

// NewWrite creates a write command for ch. The operation follows the type of v.
func NewWrite(ch Channel, v Value) Command {
	op := OpWriteAnalog
	if v.Type() == TypeBool {
		op = OpWriteDigital
	}
	return Command{ID: uuid.New(), Channel: ch, Op: op, Arg: v}
}

// String returns the request body without framing.
func (c Command) String() string {
	switch c.Op {
	case OpRead:
		return "RD " + c.Channel.Name
	case OpWriteDigital, OpWriteAnalog:
		return c.Op.String() + " " + c.Channel.Name + " " + c.Arg.String()
	default:
		return c.Op.String() + " " + c.Channel.Name
	}
}

// Reply is a decoded PLC answer.
type Reply struct {
	OK        bool
	Channel   string
	Value     Value
	Unit      string
	ErrorText string
}
