package secrets

import (
	"bytes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

type errorReader struct{}

func (errorReader) Read(p []byte) (int, error) {
	return 0, errors.New("read error")
}

func fixedKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer(fixedKey())
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestParseKey(t *testing.T) {
	raw := strings.Repeat("a", 32)
	key, err := ParseKey(raw)
	if err != nil || string(key) != raw {
		t.Fatalf("raw key: %q %v", key, err)
	}

	key, err = ParseKey(base64.StdEncoding.EncodeToString(fixedKey()))
	if err != nil || !bytes.Equal(key, fixedKey()) {
		t.Fatalf("base64 key: %v", err)
	}

	key, err = ParseKey(" " + hex.EncodeToString(fixedKey()) + "\n")
	if err != nil || !bytes.Equal(key, fixedKey()) {
		t.Fatalf("hex key: %v", err)
	}
}

func TestParseKeyRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"not-base64!!",
		base64.StdEncoding.EncodeToString(make([]byte, 16)),
	}
	for _, input := range cases {
		if _, err := ParseKey(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestSealOpen(t *testing.T) {
	s := newTestSealer(t)
	sealed, err := s.Seal([]byte(`{"access_token":"t"}`), "user@example.com/twitter")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, "v1:") {
		t.Fatalf("expected versioned ciphertext, got %q", sealed)
	}
	plain, err := s.Open(sealed, "user@example.com/twitter")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != `{"access_token":"t"}` {
		t.Fatalf("unexpected plaintext %q", plain)
	}

	again, err := s.Seal([]byte(`{"access_token":"t"}`), "user@example.com/twitter")
	if err != nil {
		t.Fatal(err)
	}
	if again == sealed {
		t.Fatal("expected a fresh nonce per seal")
	}
}

func TestOpenRejectsWrongOwnerOrTampering(t *testing.T) {
	s := newTestSealer(t)
	sealed, err := s.Seal([]byte("secret"), "alice/bluesky")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(sealed, "bob/bluesky"); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("expected ErrInvalidSecret for wrong owner, got %v", err)
	}

	data, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, "v1:"))
	data[len(data)-1] ^= 0xff
	tampered := "v1:" + base64.StdEncoding.EncodeToString(data)
	if _, err := s.Open(tampered, "alice/bluesky"); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("expected ErrInvalidSecret for tampered data, got %v", err)
	}

	for _, bad := range []string{"", "plain", "v1:!!!", "v1:" + base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := s.Open(bad, "alice/bluesky"); !errors.Is(err, ErrInvalidSecret) {
			t.Fatalf("expected ErrInvalidSecret for %q, got %v", bad, err)
		}
	}
}

func TestSealRandomFailure(t *testing.T) {
	old := randReader
	randReader = errorReader{}
	t.Cleanup(func() { randReader = old })

	if _, err := newTestSealer(t).Seal([]byte("x"), ""); err == nil {
		t.Fatal("expected error from failing random source")
	}
}

func TestNewSealerErrors(t *testing.T) {
	if _, err := NewSealer([]byte("short")); err == nil {
		t.Fatal("expected invalid key size error")
	}

	old := newGCM
	newGCM = func(cipher.Block) (cipher.AEAD, error) { return nil, errors.New("gcm error") }
	t.Cleanup(func() { newGCM = old })
	if _, err := NewSealer(fixedKey()); err == nil {
		t.Fatal("expected gcm error")
	}
}
