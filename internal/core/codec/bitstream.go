package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// Longest string or compressed string payload accepted from the wire.
const maxStringLength = 16 << 20

// BitReader reads the primitive encodings used by message payloads. Booleans
// and presence flags are packed LSB first into bytes; any other read starts
// on a fresh byte.
type BitReader struct {
	r        io.Reader
	current  byte
	bitIndex uint
}

func NewBitReader(r io.Reader) *BitReader {
	return &BitReader{r: r}
}

func (r *BitReader) ReadBit() (bool, error) {
	if r.bitIndex == 0 {
		var b [1]byte
		if _, err := io.ReadFull(r.r, b[:]); err != nil {
			return false, err
		}
		r.current = b[0]
	}
	bit := (r.current>>r.bitIndex)&1 == 1
	r.bitIndex = (r.bitIndex + 1) % 8
	return bit, nil
}

// ReadBytes reads exactly n bytes.
func (r *BitReader) ReadBytes(n int) ([]byte, error) {
	r.bitIndex = 0
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BitReader) ReadInt8() (int8, error) {
	b, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (r *BitReader) ReadInt() (int32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *BitReader) ReadLong() (int64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadString reads a length prefixed UTF-8 string. A length of -1 encodes a
// null string, returned as nil.
func (r *BitReader) ReadString() (*string, error) {
	b, err := r.readLengthPrefixed()
	if err != nil || b == nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// ReadZipString reads a length prefixed block holding the little endian
// length of the inflated text followed by zlib data.
func (r *BitReader) ReadZipString() (*string, error) {
	b, err := r.readLengthPrefixed()
	if err != nil || b == nil {
		return nil, err
	}
	if len(b) < 4 {
		return nil, fmt.Errorf("compressed string of %d bytes is too short", len(b))
	}

	inflatedLength := int(binary.LittleEndian.Uint32(b[:4]))
	if inflatedLength < 0 || inflatedLength > maxStringLength {
		return nil, fmt.Errorf("compressed string inflates to %d bytes", inflatedLength)
	}

	zr, err := zlib.NewReader(bytes.NewReader(b[4:]))
	if err != nil {
		return nil, fmt.Errorf("inflating string: %w", err)
	}
	defer zr.Close()

	inflated := make([]byte, inflatedLength)
	if _, err := io.ReadFull(zr, inflated); err != nil {
		return nil, fmt.Errorf("inflating string: %w", err)
	}
	s := string(inflated)
	return &s, nil
}

func (r *BitReader) readLengthPrefixed() ([]byte, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 || n > maxStringLength {
		return nil, fmt.Errorf("string length %d out of bounds", n)
	}
	return r.ReadBytes(int(n))
}

// BitWriter is the mirror of BitReader. Flush must be called once writing is
// complete so that a trailing partial byte of flags is emitted.
type BitWriter struct {
	w        io.Writer
	current  byte
	bitIndex uint
}

func NewBitWriter(w io.Writer) *BitWriter {
	return &BitWriter{w: w}
}

func (w *BitWriter) WriteBit(bit bool) error {
	if w.bitIndex == 0 {
		w.current = 0
	}
	if bit {
		w.current |= 1 << w.bitIndex
	}
	w.bitIndex++
	if w.bitIndex == 8 {
		return w.Flush()
	}
	return nil
}

// Flush writes any pending flag bits.
func (w *BitWriter) Flush() error {
	if w.bitIndex == 0 {
		return nil
	}
	w.bitIndex = 0
	_, err := w.w.Write([]byte{w.current})
	return err
}

func (w *BitWriter) WriteBytes(b []byte) error {
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := w.w.Write(b)
	return err
}

func (w *BitWriter) WriteInt8(b int8) error {
	return w.WriteBytes([]byte{byte(b)})
}

func (w *BitWriter) WriteInt(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return w.WriteBytes(b[:])
}

func (w *BitWriter) WriteLong(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return w.WriteBytes(b[:])
}

// WriteString writes s length prefixed, or a null string when s is nil.
func (w *BitWriter) WriteString(s *string) error {
	if s == nil {
		return w.WriteInt(-1)
	}
	if err := w.WriteInt(int32(len(*s))); err != nil {
		return err
	}
	return w.WriteBytes([]byte(*s))
}

func (w *BitWriter) WriteZipString(s *string) error {
	if s == nil {
		return w.WriteInt(-1)
	}

	var buf bytes.Buffer
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(*s)))
	buf.Write(length[:])

	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(*s)); err != nil {
		return fmt.Errorf("deflating string: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("deflating string: %w", err)
	}

	if err := w.WriteInt(int32(buf.Len())); err != nil {
		return err
	}
	return w.WriteBytes(buf.Bytes())
}
