package pdu

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/jankrod/barchomat/internal/core/encryption"
)

// Reader reads framed PDUs from an underlying stream and decrypts their
// payloads. The cipher may be swapped from another goroutine while a Read
// is blocked; the new cipher applies to the next frame decrypted.
type Reader struct {
	r io.Reader

	// Frames declaring a longer payload are treated as a broken stream.
	MaxPayloadLength int

	mu     sync.Mutex
	cipher encryption.Cipher
}

func NewReader(r io.Reader, cipher encryption.Cipher) *Reader {
	return &Reader{r: r, cipher: cipher, MaxPayloadLength: MaxPayloadLength}
}

// SetCipher replaces the cipher used to decrypt subsequent frames.
func (r *Reader) SetCipher(c encryption.Cipher) {
	r.mu.Lock()
	r.cipher = c
	r.mu.Unlock()
}

// Read blocks until a whole frame has been read. Closed or truncated streams
// and frames with an impossible length are reported as ErrEndOfStream; any
// other error is a transport error.
func (r *Reader) Read() (*Pdu, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return nil, endOfStreamOr(err)
	}

	id, length, version := decodeHeader(header[:])
	if length > r.MaxPayloadLength {
		return nil, fmt.Errorf("%w: payload length %d of pdu %d exceeds %d", ErrEndOfStream, length, id, r.MaxPayloadLength)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, endOfStreamOr(err)
	}

	r.mu.Lock()
	payload = r.cipher.Decrypt(payload)
	r.mu.Unlock()

	return &Pdu{ID: id, Version: version, Payload: payload}, nil
}

// endOfStreamOr classifies a read error. Closing the transport out of band
// (net.ErrClosed, io.ErrClosedPipe) counts as an end of stream.
func endOfStreamOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %w", ErrEndOfStream, err)
	}
	return fmt.Errorf("pdu: reading frame: %w", err)
}

// Writer encrypts PDU payloads and writes them as frames.
type Writer struct {
	w io.Writer

	mu      sync.Mutex
	cipher  encryption.Cipher
	pending encryption.Cipher
}

func NewWriter(w io.Writer, cipher encryption.Cipher) *Writer {
	return &Writer{w: w, cipher: cipher}
}

// SetCipher replaces the cipher used to encrypt subsequent frames.
func (w *Writer) SetCipher(c encryption.Cipher) {
	w.mu.Lock()
	w.cipher = c
	w.pending = nil
	w.mu.Unlock()
}

// SetCipherAfterNextWrite installs c once the next frame has been written
// with the current cipher.
func (w *Writer) SetCipherAfterNextWrite(c encryption.Cipher) {
	w.mu.Lock()
	w.pending = c
	w.mu.Unlock()
}

// Write encrypts the payload of p and writes the frame. p is not modified.
func (w *Writer) Write(p *Pdu) error {
	if len(p.Payload) > MaxPayloadLength {
		return fmt.Errorf("pdu: payload length %d of pdu %d is too long to frame", len(p.Payload), p.ID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	header := encodeHeader(p)
	payload := w.cipher.Encrypt(p.Payload)
	if w.pending != nil {
		w.cipher, w.pending = w.pending, nil
	}

	frame := make([]byte, 0, HeaderSize+len(payload))
	frame = append(frame, header[:]...)
	frame = append(frame, payload...)

	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("pdu: writing frame: %w", err)
	}
	return nil
}

// Close closes the underlying writer if it is an io.Closer.
func (w *Writer) Close() error {
	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
