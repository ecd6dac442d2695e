package pdu

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jankrod/barchomat/internal/core/encryption"
)

// bufferConn is an in-memory ReadWriteCloser; everything written can be read back.
type bufferConn struct {
	bytes.Buffer
	closed bool
}

func (b *bufferConn) Close() error {
	b.closed = true
	return nil
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestWriter_FrameLayout(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, encryption.NoopCipher{})

	if err := w.Write(&Pdu{ID: 10101, Version: 3, Payload: []byte{0xAA, 0xBB}}); err != nil {
		t.Fatalf("Write() returned an unexpected error: %v", err)
	}

	want := []byte{0x27, 0x75, 0x00, 0x00, 0x02, 0x00, 0x03, 0xAA, 0xBB}
	if diff := cmp.Diff(want, buf.Bytes()); diff != "" {
		t.Errorf("frame did not match expected; diff:\n%s", diff)
	}
}

func TestReader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, encryption.NoopCipher{})
	pdus := []*Pdu{
		{ID: 1, Version: 0, Payload: []byte("hello")},
		{ID: 24101, Version: 7, Payload: []byte{}},
		{ID: 65535, Version: 65535, Payload: bytes.Repeat([]byte{1}, 70000)},
	}
	for _, p := range pdus {
		if err := w.Write(p); err != nil {
			t.Fatalf("Write() returned an unexpected error: %v", err)
		}
	}

	r := NewReader(&buf, encryption.NoopCipher{})
	for _, want := range pdus {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read() returned an unexpected error: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Read() did not match expected; diff:\n%s", diff)
		}
	}

	if _, err := r.Read(); !errors.Is(err, ErrEndOfStream) || !errors.Is(err, io.EOF) {
		t.Errorf("expected end of stream after the last frame, got %v", err)
	}
}

func TestReader_EndOfStream(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty stream", data: nil},
		{name: "truncated header", data: []byte{0x00, 0x01, 0x00}},
		{name: "truncated payload", data: []byte{0x00, 0x01, 0x00, 0x00, 0x05, 0x00, 0x00, 'a', 'b'}},
		{name: "length too long", data: []byte{0x00, 0x01, 0xFF, 0xFF, 0xFF, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(tt.data), encryption.NoopCipher{})
			r.MaxPayloadLength = 1024
			if _, err := r.Read(); !errors.Is(err, ErrEndOfStream) {
				t.Errorf("Read() error = %v, want ErrEndOfStream", err)
			}
		})
	}
}

func TestReader_TransportError(t *testing.T) {
	transient := errors.New("connection reset")
	r := NewReader(failingReader{err: transient}, encryption.NoopCipher{})

	_, err := r.Read()
	if errors.Is(err, ErrEndOfStream) {
		t.Errorf("expected a transport error to be distinct from end of stream")
	}
	if !errors.Is(err, transient) {
		t.Errorf("expected the transport error to be wrapped, got %v", err)
	}
}

func TestConnection_SetKey(t *testing.T) {
	suite := encryption.NewRC4Suite()
	conn := &bufferConn{}

	c, err := NewConnection("test", conn, suite)
	if err != nil {
		t.Fatalf("NewConnection() returned an unexpected error: %v", err)
	}
	if _, ok := c.KeyState().(Unkeyed); !ok {
		t.Fatalf("expected a new connection to be unkeyed")
	}

	key := []byte("session key")
	if err := c.SetKey(key); err != nil {
		t.Fatalf("SetKey() returned an unexpected error: %v", err)
	}
	keyed, ok := c.KeyState().(Keyed)
	if !ok || !bytes.Equal(keyed.Key, key) {
		t.Fatalf("expected connection to be keyed with %q, got %#v", key, c.KeyState())
	}
	if err := c.SetKey(key); !errors.Is(err, ErrAlreadyKeyed) {
		t.Errorf("expected a second SetKey() to fail with ErrAlreadyKeyed, got %v", err)
	}

	// Written under the session key, readable by a peer holding the same key.
	if err := c.Out.Write(&Pdu{ID: 20000, Payload: []byte("secret")}); err != nil {
		t.Fatalf("Write() returned an unexpected error: %v", err)
	}
	peerCipher, _ := suite.Keyed(key)
	got, err := NewReader(&conn.Buffer, peerCipher).Read()
	if err != nil {
		t.Fatalf("Read() returned an unexpected error: %v", err)
	}
	if string(got.Payload) != "secret" {
		t.Errorf("expected payload to decrypt to %q, got %q", "secret", got.Payload)
	}

	if err := c.Close(); err != nil || !conn.closed {
		t.Errorf("expected Close() to close the transport")
	}
}

func TestConnection_SetKeyAfterNextWrite(t *testing.T) {
	suite := encryption.NewRC4Suite()
	conn := &bufferConn{}
	c, _ := NewConnection("test", conn, suite)

	key := []byte("session key")
	if err := c.SetKeyAfterNextWrite(key); err != nil {
		t.Fatalf("SetKeyAfterNextWrite() returned an unexpected error: %v", err)
	}
	_ = c.Out.Write(&Pdu{ID: 20000, Payload: []byte("nonce carrier")})
	_ = c.Out.Write(&Pdu{ID: 20104, Payload: []byte("after handshake")})

	initial, _ := suite.Initial()
	first, err := NewReader(&conn.Buffer, initial).Read()
	if err != nil || string(first.Payload) != "nonce carrier" {
		t.Fatalf("expected the first frame under the initial key, got %v, %v", first, err)
	}

	keyedCipher, _ := suite.Keyed(key)
	second, err := NewReader(&conn.Buffer, keyedCipher).Read()
	if err != nil || string(second.Payload) != "after handshake" {
		t.Fatalf("expected the second frame under the session key, got %v, %v", second, err)
	}
}
