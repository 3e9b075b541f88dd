package channel

import (
	"bytes"
	"testing"
)

func TestCredentialCipherRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := NewCredentialCipher(key)
	if err != nil {
		t.Fatalf("building cipher: %v", err)
	}

	plaintext := []byte(`{"api_key":"secret-value"}`)
	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("sealing: %v", err)
	}
	if bytes.Contains(sealed, []byte("secret-value")) {
		t.Fatal("sealed ciphertext must not contain the plaintext secret")
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("expected round-tripped plaintext %q, got %q", plaintext, opened)
	}
}

func TestCredentialCipherRejectsTamperedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x7a}, 32)
	c, err := NewCredentialCipher(key)
	if err != nil {
		t.Fatalf("building cipher: %v", err)
	}

	sealed, err := c.Seal([]byte(`{"api_key":"secret"}`))
	if err != nil {
		t.Fatalf("sealing: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := c.Open(sealed); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}

func TestCredentialCipherDifferentKeysCannotDecrypt(t *testing.T) {
	c1, _ := NewCredentialCipher(bytes.Repeat([]byte{0x01}, 32))
	c2, _ := NewCredentialCipher(bytes.Repeat([]byte{0x02}, 32))

	sealed, err := c1.Seal([]byte(`{"api_key":"secret"}`))
	if err != nil {
		t.Fatalf("sealing: %v", err)
	}
	if _, err := c2.Open(sealed); err == nil {
		t.Fatal("expected decryption under the wrong key to fail")
	}
}
