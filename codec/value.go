package codec

import (
	"encoding/json"
	"math"
	"strconv"
)

// ValueType tags the content of a Value.
type ValueType uint8

// Value types.
const (
	// TypeNone marks an empty Value.
	TypeNone ValueType = iota
	// TypeBool is a digital state.
	TypeBool
	// TypeFloat is an analog reading or set-point.
	TypeFloat
	// TypeText is an identity string.
	TypeText
)

// Value is a typed channel value. The zero Value holds nothing.
type Value struct {
	typ ValueType
	b   bool
	f   float64
	s   string
}

// BoolValue returns a digital Value.
func BoolValue(b bool) Value { return Value{typ: TypeBool, b: b} }

// FloatValue returns an analog Value.
func FloatValue(f float64) Value { return Value{typ: TypeFloat, f: f} }

// TextValue returns a text Value.
func TextValue(s string) Value { return Value{typ: TypeText, s: s} }

// Type returns the type tag of v.
func (v Value) Type() ValueType { return v.typ }

// IsNone reports whether v holds nothing.
func (v Value) IsNone() bool { return v.typ == TypeNone }

// Bool returns the digital state. ok is false when v is not a TypeBool.
func (v Value) Bool() (b bool, ok bool) { return v.b, v.typ == TypeBool }

// Float returns the number. ok is false when v is not a TypeFloat.
func (v Value) Float() (f float64, ok bool) { return v.f, v.typ == TypeFloat }

// Text returns the string. ok is false when v is not a TypeText.
func (v Value) Text() (s string, ok bool) { return v.s, v.typ == TypeText }

// Interface returns the value as bool, float64, string or nil.
func (v Value) Interface() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeFloat:
		return v.f
	case TypeText:
		return v.s
	default:
		return nil
	}
}

// String formats the value the way it appears on the wire.
func (v Value) String() string {
	switch v.typ {
	case TypeBool:
		if v.b {
			return "1"
		}
		return "0"
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeText:
		return v.s
	default:
		return ""
	}
}

// Equal reports whether v and o hold the same type and content.
func (v Value) Equal(o Value) bool {
	return v == o
}

// MarshalJSON encodes v as a JSON bool, number or string. Non-finite numbers
// and empty values become null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.typ == TypeFloat && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return []byte("null"), nil
	}
	return json.Marshal(v.Interface())
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
