// Package pdu implements the framing layer: reading and writing PDUs (an id,
// a version and an opaque payload) from a byte stream, with the payload
// passed through the connection's stream cipher.
package pdu

import (
	"errors"
	"fmt"
)

// HeaderSize is the length of a frame header: a 2 byte id, a 3 byte payload
// length and a 2 byte version, all big endian.
const HeaderSize = 7

// MaxPayloadLength is the largest payload a 3 byte length can describe.
const MaxPayloadLength = 1<<24 - 1

// ErrEndOfStream is returned when the peer has closed the stream or the
// stream ended part way through a frame. It is distinct from the errors
// returned when a payload can't be decoded.
var ErrEndOfStream = errors.New("pdu: end of stream")

// ErrAlreadyKeyed is returned when a connection that has completed its
// handshake is keyed a second time.
var ErrAlreadyKeyed = errors.New("pdu: connection already keyed")

// Pdu is a single framed protocol data unit. It never holds decoded structure.
type Pdu struct {
	ID      uint16
	Version uint16
	Payload []byte
}

func (p *Pdu) String() string {
	return fmt.Sprintf("Pdu{id: %d, version: %d, length: %d}", p.ID, p.Version, len(p.Payload))
}

func encodeHeader(p *Pdu) [HeaderSize]byte {
	var h [HeaderSize]byte
	n := len(p.Payload)
	h[0], h[1] = byte(p.ID>>8), byte(p.ID)
	h[2], h[3], h[4] = byte(n>>16), byte(n>>8), byte(n)
	h[5], h[6] = byte(p.Version>>8), byte(p.Version)
	return h
}

func decodeHeader(h []byte) (id uint16, length int, version uint16) {
	id = uint16(h[0])<<8 | uint16(h[1])
	length = int(h[2])<<16 | int(h[3])<<8 | int(h[4])
	version = uint16(h[5])<<8 | uint16(h[6])
	return
}
