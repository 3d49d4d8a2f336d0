package wire

import (
	"errors"
	"fmt"
)

// Transport error codes.
// https://www.rfc-editor.org/rfc/rfc9000.html#error-codes
const (
	NoError                 = 0x0
	InternalError           = 0x1
	FlowControlError        = 0x3
	StreamLimitError        = 0x4
	StreamStateError        = 0x5
	FinalSizeError          = 0x6
	FrameEncodingError      = 0x7
	TransportParameterError = 0x8
	ProtocolViolation       = 0xa
)

// Error is a transport-level error raised by the codec. FrameType
// carries the type of the frame being decoded when the error occurred,
// for diagnostics and for CONNECTION_CLOSE's triggering-frame field.
type Error struct {
	Code      uint64
	FrameType uint64
	Reason    string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("0x%x %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("0x%x", e.Code)
}

func newError(code uint64, reason string) *Error {
	return &Error{
		Code:   code,
		Reason: reason,
	}
}

func newFrameError(frameType uint64, reason string) *Error {
	return &Error{
		Code:      FrameEncodingError,
		FrameType: frameType,
		Reason:    reason,
	}
}

var (
	errInvalidPacket     = newError(FrameEncodingError, "PacketEncoding")
	errProtocolViolation = newError(ProtocolViolation, "ProtocolViolation")

	errShortBuffer = errors.New("ShortBuffer")
)
