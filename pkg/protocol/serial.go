package protocol

import (
	"encoding/hex"
	"fmt"
)

// SerialLength is the fixed byte width of a device serial number.
const SerialLength = 8

// SerialNumber is the 8-byte device identifier extracted from login and
// heartbeat payloads. It is a fixed array (not a slice) so it can be used
// directly as a map key, the Go equivalent of the Python original's use of
// an immutable bytes object as a dict key.
type SerialNumber [SerialLength]byte

// String renders the serial as lowercase hex, the external representation
// used throughout the HTTP facade and webhook payloads.
func (s SerialNumber) String() string {
	return hex.EncodeToString(s[:])
}

// ParseSerialHex decodes a lowercase (or mixed-case) hex string into a
// SerialNumber. Returns an error if the string does not decode to exactly
// SerialLength bytes.
func ParseSerialHex(s string) (SerialNumber, error) {
	var out SerialNumber
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("serial %q: %w", s, err)
	}
	if len(b) != SerialLength {
		return out, fmt.Errorf("serial %q: expected %d bytes, got %d", s, SerialLength, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// SerialFromBytes copies the first SerialLength bytes of b into a
// SerialNumber. The caller must ensure len(b) >= SerialLength.
func SerialFromBytes(b []byte) SerialNumber {
	var out SerialNumber
	copy(out[:], b[:SerialLength])
	return out
}
