package ieb

import (
	"time"

	"github.com/arloliu/go-ieb/codec"
)

// Channel is the static description of a PLC channel.
type Channel struct {
	Name string
	Kind codec.Kind
	// Unit is the expected unit of analog readings.
	Unit string
	// Inverted flips digital values between the wire and the controller API.
	// A relay that powers its device while the output is off is inverted.
	Inverted bool
	// Safe is the logical value an output is driven to by Initialize.
	// Digital outputs default to false; analog outputs without a safe value are left alone.
	Safe codec.Value
	// Range bounds analog writes.
	Range *codec.Range
}

func (ch Channel) wire() codec.Channel {
	return codec.Channel{Name: ch.Name, Kind: ch.Kind, Unit: ch.Unit, Range: ch.Range}
}

// toWire converts a logical value into the value sent to the PLC.
func (ch Channel) toWire(v codec.Value) codec.Value {
	if b, ok := v.Bool(); ok && ch.Inverted {
		return codec.BoolValue(!b)
	}
	return v
}

// fromWire converts a value read from the PLC into its logical value.
func (ch Channel) fromWire(v codec.Value) codec.Value {
	return ch.toWire(v)
}

func (ch Channel) safeValue() (codec.Value, bool) {
	switch {
	case !ch.Safe.IsNone():
		return ch.Safe, true
	case ch.Kind == codec.KindDigitalOut:
		return codec.BoolValue(false), true
	default:
		return codec.Value{}, false
	}
}

// ChannelState is the last known state of a channel.
//
// Value keeps the last successfully decoded value. A failed read marks the
// channel Stale and records the failure in Err without touching Value.
type ChannelState struct {
	Name    string
	Kind    codec.Kind
	Value   codec.Value
	Unit    string
	Updated time.Time
	Stale   bool
	Err     error
}

// Bool returns the value of a digital channel. ok is false when no value is known.
func (s ChannelState) Bool() (v bool, ok bool) {
	return s.Value.Bool()
}

// Float returns the value of an analog channel. ok is false when no value is known.
func (s ChannelState) Float() (v float64, ok bool) {
	return s.Value.Float()
}

// Reading is the serializable form of a ChannelState.
type Reading struct {
	Name    string    `json:"name" msgpack:"name"`
	Kind    string    `json:"kind" msgpack:"kind"`
	Value   any       `json:"value" msgpack:"value"`
	Unit    string    `json:"unit,omitempty" msgpack:"unit,omitempty"`
	Updated time.Time `json:"updated" msgpack:"updated"`
	Stale   bool      `json:"stale" msgpack:"stale"`
	Error   string    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Reading converts s into its serializable form.
func (s ChannelState) Reading() Reading {
	r := Reading{
		Name:    s.Name,
		Kind:    s.Kind.String(),
		Value:   s.Value.Interface(),
		Unit:    s.Unit,
		Updated: s.Updated,
		Stale:   s.Stale,
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}

	return r
}
