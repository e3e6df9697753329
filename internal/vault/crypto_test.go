package vault

import (
	"bytes"
	"crypto/x509"
	"errors"
	"strings"
	"testing"
)

var testKey = []byte("thisis32byteslongsecretkey123456") // 32 bytes for AES-256

func TestSealOpen(t *testing.T) {
	plaintext := []byte(`{"records":[{"naam":"Karim"}]}`)

	ciphertext, err := Seal(plaintext, testKey)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("Karim")) {
		t.Fatal("Ciphertext should not contain the plaintext")
	}

	decrypted, err := Open(ciphertext, testKey)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Expected %s, got %s", plaintext, decrypted)
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	other := []byte("another32byteslongsecretkey65432")

	ciphertext, err := Seal([]byte("Secret message"), testKey)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	_, err = Open(ciphertext, other)
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("Expected ErrDecrypt with wrong key, got %v", err)
	}
}

func TestInvalidKeySize(t *testing.T) {
	invalidKey := []byte("shortkey")

	if _, err := Seal([]byte("test"), invalidKey); err == nil {
		t.Fatal("Seal should fail with invalid key size")
	}
	if _, err := Open([]byte("0123456789abcdef"), invalidKey); err == nil {
		t.Fatal("Open should fail with invalid key size")
	}
}

func TestOpenTooShort(t *testing.T) {
	if _, err := Open([]byte{0xab, 0xcd}, testKey); err == nil {
		t.Fatal("Open should fail with too short ciphertext")
	}
}

func TestParseKey(t *testing.T) {
	hexKey := strings.Repeat("ab", KeySize)
	key, err := ParseKey(hexKey)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("Expected %d bytes, got %d", KeySize, len(key))
	}

	if _, err := ParseKey("abcd"); err == nil {
		t.Error("Expected short key to be rejected")
	}
	if _, err := ParseKey("not-hex"); err == nil {
		t.Error("Expected malformed hex to be rejected")
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert("records.internal", "10.0.0.5")
	if err != nil {
		t.Fatalf("Failed to generate self-signed cert: %v", err)
	}

	if len(cert.Certificate) == 0 {
		t.Fatal("Generated certificate is empty")
	}
	if cert.PrivateKey == nil {
		t.Fatal("Generated private key is nil")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate failed: %v", err)
	}
	if err := leaf.VerifyHostname("records.internal"); err != nil {
		t.Errorf("Expected extra DNS name in certificate: %v", err)
	}
	if err := leaf.VerifyHostname("10.0.0.5"); err != nil {
		t.Errorf("Expected extra IP in certificate: %v", err)
	}
}
