package encryption

import (
	"bytes"
	"testing"
)

func TestScrambler_Next(t *testing.T) {
	// The generator is a standard MT19937, so the reference sequence for the
	// reference seed applies.
	s := NewScrambler(5489)
	for i, want := range []uint32{3499211612, 581869302, 3890346734, 3586334585} {
		if got := s.Next(); got != want {
			t.Fatalf("Next() #%d = %d, want %d", i, got, want)
		}
	}
}

func TestScramble_Deterministic(t *testing.T) {
	nonce := []byte("0123456789abcdefghijklmn")

	a := Scramble(12345, nonce)
	b := Scramble(12345, nonce)
	if !bytes.Equal(a, b) {
		t.Fatalf("expected identical keys for the same seed and nonce, got %x and %x", a, b)
	}
	if len(a) != len(nonce) {
		t.Errorf("expected key length %d, got %d", len(nonce), len(a))
	}
	if bytes.Equal(a, Scramble(54321, nonce)) {
		t.Errorf("expected different seeds to produce different keys")
	}
}

func TestScrambler_StateAdvances(t *testing.T) {
	nonce := []byte("0123456789abcdefghijklmn")
	s := NewScrambler(-42)

	first := s.Scramble(nonce)
	second := s.Scramble(nonce)
	if bytes.Equal(first, second) {
		t.Errorf("expected sequential scrambles on one generator to differ")
	}
}

func TestNoopCipher(t *testing.T) {
	data := []byte("plaintext")
	c, _ := NoopSuite{}.Keyed([]byte("whatever"))

	if got := c.Encrypt(data); !bytes.Equal(got, data) {
		t.Errorf("Encrypt() = %q, want %q", got, data)
	}
	if got := c.Decrypt(data); !bytes.Equal(got, data) {
		t.Errorf("Decrypt() = %q, want %q", got, data)
	}
}

func TestRC4Suite(t *testing.T) {
	suite := NewRC4Suite()
	nonce := Scramble(7, []byte("0123456789abcdefghijklmn"))

	sender, err := suite.Keyed(nonce)
	if err != nil {
		t.Fatalf("Keyed() returned an unexpected error: %v", err)
	}
	receiver, _ := suite.Keyed(nonce)

	// The key stream runs across messages, so decrypt in the same order.
	for _, msg := range [][]byte{[]byte("first message"), []byte("second"), {}} {
		enc := sender.Encrypt(msg)
		if len(msg) > 0 && bytes.Equal(enc, msg) {
			t.Fatalf("expected Encrypt() to have encrypted %q", msg)
		}
		if dec := receiver.Decrypt(enc); !bytes.Equal(dec, msg) {
			t.Fatalf("Decrypt() = %q, want %q", dec, msg)
		}
	}
}

func TestRC4Suite_InitialDiffersFromKeyed(t *testing.T) {
	suite := NewRC4Suite()
	initial, _ := suite.Initial()
	keyed, _ := suite.Keyed([]byte("other"))

	msg := []byte("same plaintext")
	if bytes.Equal(initial.Encrypt(msg), keyed.Encrypt(msg)) {
		t.Errorf("expected the initial and keyed ciphers to use different key streams")
	}
}
