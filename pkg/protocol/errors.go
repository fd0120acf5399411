package protocol

import "errors"

// Error kinds per the wire-protocol error handling design. Framing, CRC and
// payload errors are all recoverable: the caller logs and drops the frame
// without closing the connection.
var (
	ErrTooShort        = errors.New("protocol: frame shorter than minimum length")
	ErrBadSentinel     = errors.New("protocol: missing header or footer sentinel")
	ErrLengthMismatch  = errors.New("protocol: declared length does not match frame size")
	ErrCRCMismatch     = errors.New("protocol: CRC16 mismatch")
	ErrPayloadTooShort = errors.New("protocol: heartbeat payload shorter than 32 bytes")
)
