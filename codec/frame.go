package codec

import (
	"bytes"
	"fmt"
)

const (
	// Header prefixes every frame.
	Header = "\x00\x07"
	// Terminator ends every frame.
	Terminator = '\r'
)

// Frame wraps body with the frame header and terminator.
func Frame(body string) []byte {
	buf := make([]byte, 0, len(Header)+len(body)+1)
	buf = append(buf, Header...)
	buf = append(buf, body...)
	return append(buf, Terminator)
}

// Unframe strips the header and any trailing terminators or whitespace from line
// and returns the body. The header is mandatory.
func Unframe(line []byte) (string, error) {
	line = bytes.TrimRight(line, "\r\n\t ")
	if !bytes.HasPrefix(line, []byte(Header)) {
		return "", fmt.Errorf("%w: missing frame header in %q", ErrProtocol, line)
	}
	body := line[len(Header):]
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty frame", ErrProtocol)
	}
	for _, c := range body {
		if c < 0x20 || c > 0x7e {
			return "", fmt.Errorf("%w: non printable byte 0x%02x in frame", ErrProtocol, c)
		}
	}

	return string(body), nil
}

// ValidName reports whether name can be used as a channel name on the wire.
func ValidName(name string) bool {
	if name == "" || name == "ERR" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '-', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}
