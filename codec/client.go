package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Encode serializes cmd into a request frame.
func Encode(cmd Command) ([]byte, error) {
	ch := cmd.Channel
	if !ValidName(ch.Name) {
		return nil, fmt.Errorf("%w: invalid channel name %q", ErrEncoding, ch.Name)
	}

	switch cmd.Op {
	case OpRead:
		if !cmd.Arg.IsNone() {
			return nil, fmt.Errorf("%w: read of %s carries an argument", ErrEncoding, ch.Name)
		}
	case OpWriteDigital:
		if ch.Kind != KindDigitalOut {
			return nil, fmt.Errorf("%w: digital write to %s channel %s", ErrEncoding, ch.Kind, ch.Name)
		}
		if _, ok := cmd.Arg.Bool(); !ok {
			return nil, fmt.Errorf("%w: digital write to %s needs a boolean", ErrEncoding, ch.Name)
		}
	case OpWriteAnalog:
		if ch.Kind != KindAnalogOut {
			return nil, fmt.Errorf("%w: analog write to %s channel %s", ErrEncoding, ch.Kind, ch.Name)
		}
		f, ok := cmd.Arg.Float()
		if !ok {
			return nil, fmt.Errorf("%w: analog write to %s needs a number", ErrEncoding, ch.Name)
		}
		if !isFinite(f) {
			return nil, fmt.Errorf("%w: non finite value for %s", ErrEncoding, ch.Name)
		}
		if ch.Range != nil && !ch.Range.Contains(f) {
			return nil, fmt.Errorf("%w: %v outside [%v, %v] for %s", ErrEncoding, f, ch.Range.Min, ch.Range.Max, ch.Name)
		}
	default:
		return nil, fmt.Errorf("%w: unknown operation %s", ErrEncoding, cmd.Op)
	}

	return Frame(cmd.String()), nil
}

// EncodeRaw frames an arbitrary request body for passthrough.
func EncodeRaw(body string) ([]byte, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: empty raw command", ErrEncoding)
	}
	for _, c := range []byte(body) {
		if c < 0x20 || c > 0x7e {
			return nil, fmt.Errorf("%w: raw command contains byte 0x%02x", ErrEncoding, c)
		}
	}

	return Frame(body), nil
}

// Decode parses a reply line for cmd.
//
// A device error ("ERR ...") decodes into a Reply with OK false and a nil error.
// Anything that does not match the channel or the shape expected for cmd
// fails with ErrProtocol.
func Decode(cmd Command, line []byte) (Reply, error) {
	body, err := Unframe(line)
	if err != nil {
		return Reply{}, err
	}
	ch := cmd.Channel

	if body == "ERR" || strings.HasPrefix(body, "ERR ") {
		return decodeError(ch.Name, strings.TrimSpace(strings.TrimPrefix(body, "ERR"))), nil
	}

	name, payload, found := strings.Cut(body, "=")
	if !found || name == "" {
		return Reply{}, fmt.Errorf("%w: malformed reply %q", ErrProtocol, body)
	}
	if name != ch.Name {
		return Reply{}, fmt.Errorf("%w: reply for %q while waiting for %q", ErrProtocol, name, ch.Name)
	}
	payload = strings.TrimSpace(payload)

	reply := Reply{OK: true, Channel: name}
	switch {
	case ch.Kind.Digital():
		b, err := parseDigital(payload)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: channel %s: %w", ErrProtocol, name, err)
		}
		reply.Value = BoolValue(b)
	case ch.Kind.Analog():
		f, unit, err := parseAnalog(payload)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: channel %s: %w", ErrProtocol, name, err)
		}
		if ch.Unit != "" && unit != "" && unit != ch.Unit {
			return Reply{}, fmt.Errorf("%w: channel %s: unit %q, expected %q", ErrProtocol, name, unit, ch.Unit)
		}
		reply.Value = FloatValue(f)
		reply.Unit = unit
		if reply.Unit == "" {
			reply.Unit = ch.Unit
		}
	case ch.Kind == KindIdentity:
		if payload == "" {
			return Reply{}, fmt.Errorf("%w: channel %s: empty identity", ErrProtocol, name)
		}
		reply.Value = TextValue(payload)
	default:
		return Reply{}, fmt.Errorf("%w: channel %s has unknown kind", ErrProtocol, name)
	}

	return reply, nil
}

// DecodeRaw returns the body of a reply line without interpreting it.
func DecodeRaw(line []byte) (string, error) {
	return Unframe(line)
}

func decodeError(channel, rest string) Reply {
	reply := Reply{OK: false}
	first, tail, _ := strings.Cut(rest, " ")
	if first != "" && first == channel {
		reply.Channel = first
		reply.ErrorText = strings.TrimSpace(tail)
	} else {
		reply.ErrorText = rest
	}
	if reply.ErrorText == "" {
		reply.ErrorText = "unspecified device error"
	}

	return reply
}

func parseDigital(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("digital payload %q", s)
}

func parseAnalog(s string) (float64, string, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, "", fmt.Errorf("analog payload %q", s)
	}
	f, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, "", fmt.Errorf("analog payload %q", s)
	}
	if !isFinite(f) {
		return 0, "", fmt.Errorf("non finite analog payload %q", s)
	}
	unit := ""
	if len(fields) == 2 {
		unit = fields[1]
	}

	return f, unit, nil
}
