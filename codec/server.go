package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Request is a decoded request as seen by the PLC side.
type Request struct {
	Op      Operation
	Channel string
	Arg     Value
}

// DecodeRequest parses a request frame.
func DecodeRequest(line []byte) (Request, error) {
	body, err := Unframe(line)
	if err != nil {
		return Request{}, err
	}
	fields := strings.Fields(body)
	if len(fields) < 2 {
		return Request{}, fmt.Errorf("%w: malformed request %q", ErrProtocol, body)
	}
	req := Request{Channel: fields[1]}
	if !ValidName(req.Channel) {
		return Request{}, fmt.Errorf("%w: invalid channel name %q", ErrProtocol, req.Channel)
	}

	switch fields[0] {
	case "RD":
		if len(fields) != 2 {
			return Request{}, fmt.Errorf("%w: malformed read %q", ErrProtocol, body)
		}
		req.Op = OpRead
	case "WD":
		if len(fields) != 3 {
			return Request{}, fmt.Errorf("%w: malformed digital write %q", ErrProtocol, body)
		}
		b, err := parseDigital(fields[2])
		if err != nil {
			return Request{}, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		req.Op = OpWriteDigital
		req.Arg = BoolValue(b)
	case "WA":
		if len(fields) != 3 {
			return Request{}, fmt.Errorf("%w: malformed analog write %q", ErrProtocol, body)
		}
		f, err := strconv.ParseFloat(fields[2], 64)
		if err != nil || !isFinite(f) {
			return Request{}, fmt.Errorf("%w: analog argument %q", ErrProtocol, fields[2])
		}
		req.Op = OpWriteAnalog
		req.Arg = FloatValue(f)
	default:
		return Request{}, fmt.Errorf("%w: unknown verb %q", ErrProtocol, fields[0])
	}

	return req, nil
}

// EncodeReply builds a success reply frame. unit is only used for numbers.
func EncodeReply(channel string, v Value, unit string) []byte {
	payload := v.String()
	if v.Type() == TypeFloat && unit != "" {
		payload += " " + unit
	}
	return Frame(channel + "=" + payload)
}

// EncodeError builds an error reply frame. channel may be empty.
func EncodeError(channel, text string) []byte {
	body := "ERR"
	if channel != "" {
		body += " " + channel
	}
	if text != "" {
		body += " " + text
	}
	return Frame(body)
}
