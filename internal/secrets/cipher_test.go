package secrets

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(bytes.Repeat([]byte{7}, KeySize))
	if err != nil {
		t.Fatalf("NewCipher() error: %v", err)
	}
	return c
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := testCipher(t)

	sealed, err := c.Seal("gho_testtoken123")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if strings.Contains(sealed, "gho_testtoken123") {
		t.Error("sealed value contains the plaintext")
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if opened != "gho_testtoken123" {
		t.Errorf("Open() = %q, want original plaintext", opened)
	}
}

func TestSealProducesDistinctCiphertexts(t *testing.T) {
	c := testCipher(t)

	a, _ := c.Seal("same-token")
	b, _ := c.Seal("same-token")
	if a == b {
		t.Error("sealing the same plaintext twice produced identical ciphertexts (nonce reuse)")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	c := testCipher(t)

	sealed, _ := c.Seal("gho_testtoken123")
	tampered := "A" + sealed[1:]
	if _, err := c.Open(tampered); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open(tampered) error = %v, want ErrInvalidCiphertext", err)
	}

	if _, err := c.Open("not base64!!"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open(garbage) error = %v, want ErrInvalidCiphertext", err)
	}
	if _, err := c.Open(""); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open(empty) error = %v, want ErrInvalidCiphertext", err)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	c := testCipher(t)
	sealed, _ := c.Seal("gho_testtoken123")

	other, err := NewCipher(bytes.Repeat([]byte{9}, KeySize))
	if err != nil {
		t.Fatalf("NewCipher() error: %v", err)
	}
	if _, err := other.Open(sealed); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open() with wrong key error = %v, want ErrInvalidCiphertext", err)
	}
}

func TestNewCipherRejectsBadKeyLength(t *testing.T) {
	if _, err := NewCipher([]byte("short")); err == nil {
		t.Error("NewCipher() accepted a short key")
	}
}

func TestKeyEncoding(t *testing.T) {
	encoded, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	key, err := DecodeKey(encoded)
	if err != nil {
		t.Fatalf("DecodeKey() error: %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("key length = %d, want %d", len(key), KeySize)
	}

	if _, err := DecodeKey("zzzz"); err == nil {
		t.Error("DecodeKey() accepted invalid hex")
	}
	if _, err := DecodeKey("abcd"); err == nil {
		t.Error("DecodeKey() accepted a short key")
	}
}
