package decrypt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const keySize = 32

// ErrUnknownKey reports a payload sealed to a key the store does not hold.
var ErrUnknownKey = errors.New("unknown public key")

// KeyStore holds organization key pairs indexed by public key.
type KeyStore struct {
	private map[[keySize]byte][keySize]byte
}

type keyFile struct {
	Keys map[string]struct {
		Private string `json:"private"`
	} `json:"keys"`
}

// LoadKeyStore reads a key file from path.
func LoadKeyStore(path string) (*KeyStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()
	return ParseKeyStore(f)
}

// ParseKeyStore reads a key file of the form
// {"keys": {"<public>": {"private": "<private>"}}} with base64url keys.
func ParseKeyStore(r io.Reader) (*KeyStore, error) {
	var file keyFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	store := &KeyStore{private: make(map[[keySize]byte][keySize]byte, len(file.Keys))}
	for public, entry := range file.Keys {
		pub, err := DecodeKey(public)
		if err != nil {
			return nil, fmt.Errorf("public key %q: %w", public, err)
		}
		priv, err := DecodeKey(entry.Private)
		if err != nil {
			return nil, fmt.Errorf("private key for %q: %w", public, err)
		}
		store.private[pub] = priv
	}
	return store, nil
}

// Add registers a key pair.
func (s *KeyStore) Add(public, private [keySize]byte) {
	if s.private == nil {
		s.private = make(map[[keySize]byte][keySize]byte)
	}
	s.private[public] = private
}

// Private returns the private key paired with public.
func (s *KeyStore) Private(public [keySize]byte) ([keySize]byte, error) {
	if s != nil {
		if priv, ok := s.private[public]; ok {
			return priv, nil
		}
	}
	return [keySize]byte{}, ErrUnknownKey
}

// Len reports the number of key pairs held.
func (s *KeyStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.private)
}

// DecodeKey decodes a 32 byte key in base64url, falling back to standard
// base64.
func DecodeKey(value string) ([keySize]byte, error) {
	var key [keySize]byte
	raw, err := decodeBase64(value)
	if err != nil {
		return key, err
	}
	if len(raw) != keySize {
		return key, fmt.Errorf("key is %d bytes, want %d", len(raw), keySize)
	}
	copy(key[:], raw)
	return key, nil
}

// EncodeKey encodes a key the way senders publish it.
func EncodeKey(key [keySize]byte) string {
	return base64.RawURLEncoding.EncodeToString(key[:])
}

func decodeBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty value")
	}
	trimmed := strings.TrimRight(value, "=")
	if raw, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return raw, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}
