package codec

import (
	"errors"
	"fmt"
)

// ErrArrayBounds is wrapped by the ProtocolError returned when an array
// length read from the stream is negative or above the configured maximum.
var ErrArrayBounds = errors.New("array length out of bounds")

// ErrUnknownMessage is returned when a PDU's identifier has no schema
// definition. Callers should pass such PDUs through undecoded.
var ErrUnknownMessage = errors.New("no definition for message")

// ProtocolError reports malformed data: a field that couldn't be read, an
// array length out of bounds or a required field missing from a message.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErrorf(err error, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...), Err: err}
}
