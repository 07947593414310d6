package sens4

import (
	"fmt"
	"regexp"
	"strconv"
)

// Terminator ends every query and reply.
const Terminator = '\\'

// Quantity selects what a transducer reports.
type Quantity byte

const (
	// Pressure queries the measured pressure.
	Pressure Quantity = 'P'
	// Temperature queries the temperature of the sensor head.
	Temperature Quantity = 'T'
)

func (q Quantity) String() string {
	switch q {
	case Pressure:
		return "pressure"
	case Temperature:
		return "temperature"
	default:
		return fmt.Sprintf("quantity(%c)", byte(q))
	}
}

var replyRe = regexp.MustCompile(`^@([0-9]{1,3})(ACK|NAK)(.*)$`)

// EncodeQuery returns the query for quantity q of device id, terminator included.
func EncodeQuery(id int, q Quantity) []byte {
	return fmt.Appendf(nil, "@%d%c?%c", id, byte(q), Terminator)
}

// ParseReply parses a reply line, without its terminator, sent by device id.
func ParseReply(id int, line []byte) (float64, error) {
	m := replyRe.FindSubmatch(line)
	if m == nil {
		return 0, fmt.Errorf("%w: unexpected reply %q", ErrProtocol, line)
	}
	from, _ := strconv.Atoi(string(m[1]))
	if from != id {
		return 0, fmt.Errorf("%w: reply from device %d, expected %d", ErrProtocol, from, id)
	}
	if string(m[2]) == "NAK" {
		return 0, fmt.Errorf("%w: device %d answered NAK %s", ErrDevice, id, m[3])
	}

	v, err := strconv.ParseFloat(string(m[3]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: value %q: %w", ErrProtocol, m[3], err)
	}

	return v, nil
}
