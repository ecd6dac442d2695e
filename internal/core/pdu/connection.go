package pdu

import (
	"fmt"
	"io"
	"sync"

	"github.com/jankrod/barchomat/internal/core/encryption"
)

// KeyState is either Unkeyed or Keyed. A connection starts Unkeyed and moves
// to Keyed exactly once, when the handshake completes.
type KeyState interface {
	isKeyState()
}

// Unkeyed connections use the suite's initial cipher.
type Unkeyed struct{}

// Keyed connections use a cipher derived from the session key.
type Keyed struct {
	Key []byte
}

func (Unkeyed) isKeyState() {}
func (Keyed) isKeyState()   {}

// Connection pairs the framed input and output streams of one peer.
type Connection struct {
	Name string
	In   *Reader
	Out  *Writer

	suite  encryption.Suite
	closer io.Closer

	mu  sync.Mutex
	key KeyState
}

// NewConnection wraps rw with framed streams using suite's initial ciphers.
func NewConnection(name string, rw io.ReadWriteCloser, suite encryption.Suite) (*Connection, error) {
	in, err := suite.Initial()
	if err != nil {
		return nil, fmt.Errorf("creating initial input cipher for %s: %w", name, err)
	}
	out, err := suite.Initial()
	if err != nil {
		return nil, fmt.Errorf("creating initial output cipher for %s: %w", name, err)
	}

	return &Connection{
		Name:   name,
		In:     NewReader(rw, in),
		Out:    NewWriter(rw, out),
		suite:  suite,
		closer: rw,
		key:    Unkeyed{},
	}, nil
}

// KeyState reports whether the handshake has completed on this connection.
func (c *Connection) KeyState() KeyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// SetKey switches both directions to ciphers derived from key.
func (c *Connection) SetKey(key []byte) error {
	return c.setKey(key, false)
}

// SetKeyAfterNextWrite switches the input direction immediately and the
// output direction once the frame currently being relayed has been written.
// A proxy uses this when it forwards the message that carries the nonce: that
// message still travels under the old key.
func (c *Connection) SetKeyAfterNextWrite(key []byte) error {
	return c.setKey(key, true)
}

func (c *Connection) setKey(key []byte, deferOutput bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.key.(Keyed); ok {
		return fmt.Errorf("%s: %w", c.Name, ErrAlreadyKeyed)
	}

	in, err := c.suite.Keyed(key)
	if err != nil {
		return fmt.Errorf("creating input cipher for %s: %w", c.Name, err)
	}
	out, err := c.suite.Keyed(key)
	if err != nil {
		return fmt.Errorf("creating output cipher for %s: %w", c.Name, err)
	}

	c.In.SetCipher(in)
	if deferOutput {
		c.Out.SetCipherAfterNextWrite(out)
	} else {
		c.Out.SetCipher(out)
	}

	k := make([]byte, len(key))
	copy(k, key)
	c.key = Keyed{Key: k}
	return nil
}

// Close closes the underlying transport, which aborts any blocked Read with
// an end of stream.
func (c *Connection) Close() error {
	return c.closer.Close()
}
