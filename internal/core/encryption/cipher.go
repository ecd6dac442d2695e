// Package encryption implements the stream cipher applied to PDU payloads and
// the generator that derives session keys during the handshake.
package encryption

import (
	"crypto/rc4"
	"fmt"
)

// DefaultBaseKey is the key prefix baked into the game client. The session
// key is this prefix followed by the nonce.
const DefaultBaseKey = "fhsd6f86f67rt8fw78fw789we78r9789wer6re"

// InitialNonce is the nonce used for traffic exchanged before the handshake
// has completed.
const InitialNonce = "nonce"

// Cipher is a stateful transform over PDU payloads. Implementations keep a
// running key stream, so each direction of a connection needs its own Cipher.
type Cipher interface {
	Encrypt(data []byte) []byte
	Decrypt(data []byte) []byte
}

// Suite creates Ciphers. Initial returns the cipher used before a session
// key is known; Keyed returns one for the given nonce.
type Suite interface {
	Initial() (Cipher, error)
	Keyed(nonce []byte) (Cipher, error)
}

// NoopCipher passes data through unchanged. It's used when reading and
// writing capture files, which hold plaintext payloads.
type NoopCipher struct{}

func (NoopCipher) Encrypt(data []byte) []byte { return data }
func (NoopCipher) Decrypt(data []byte) []byte { return data }

// NoopSuite produces NoopCiphers regardless of key.
type NoopSuite struct{}

func (NoopSuite) Initial() (Cipher, error)         { return NoopCipher{}, nil }
func (NoopSuite) Keyed(_ []byte) (Cipher, error) { return NoopCipher{}, nil }

// RC4Suite produces the game's RC4 ciphers keyed with BaseKey+nonce.
type RC4Suite struct {
	BaseKey []byte
}

// NewRC4Suite returns a suite using DefaultBaseKey.
func NewRC4Suite() *RC4Suite {
	return &RC4Suite{BaseKey: []byte(DefaultBaseKey)}
}

func (s *RC4Suite) Initial() (Cipher, error) {
	return s.Keyed([]byte(InitialNonce))
}

func (s *RC4Suite) Keyed(nonce []byte) (Cipher, error) {
	key := make([]byte, 0, len(s.BaseKey)+len(nonce))
	key = append(key, s.BaseKey...)
	key = append(key, nonce...)
	return newRC4Cipher(key)
}

type rc4Cipher struct {
	stream *rc4.Cipher
}

func newRC4Cipher(key []byte) (*rc4Cipher, error) {
	stream, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption/rc4: %w", err)
	}
	// The client discards as many key stream bytes as there are key bytes.
	skip := make([]byte, len(key))
	stream.XORKeyStream(skip, skip)
	return &rc4Cipher{stream: stream}, nil
}

func (c *rc4Cipher) Encrypt(data []byte) []byte {
	out := make([]byte, len(data))
	c.stream.XORKeyStream(out, data)
	return out
}

// RC4 is symmetric.
func (c *rc4Cipher) Decrypt(data []byte) []byte {
	return c.Encrypt(data)
}
