package decrypt

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const nonceSize = 24

// ErrOpen reports a payload that failed authentication.
var ErrOpen = errors.New("payload failed authentication")

// BoxDecrypter opens NaCl box payloads sealed to an organization key by a
// sender sign key.
type BoxDecrypter struct {
	keys *KeyStore
}

// NewBoxDecrypter builds a decrypter over keys.
func NewBoxDecrypter(keys *KeyStore) *BoxDecrypter {
	return &BoxDecrypter{keys: keys}
}

// Decrypt opens sealed.Payload.
func (d *BoxDecrypter) Decrypt(ctx context.Context, sealed Sealed) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orgPublic, err := DecodeKey(sealed.PublicKey.Public)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	orgPrivate, err := d.keys.Private(orgPublic)
	if err != nil {
		return nil, fmt.Errorf("public key %d: %w", sealed.PublicKey.ID, err)
	}
	senderPublic, err := DecodeKey(sealed.SignKey.Public)
	if err != nil {
		return nil, fmt.Errorf("sign key: %w", err)
	}
	rawNonce, err := decodeBase64(sealed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	if len(rawNonce) != nonceSize {
		return nil, fmt.Errorf("nonce is %d bytes, want %d", len(rawNonce), nonceSize)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], rawNonce)
	ciphertext, err := decodeBase64(sealed.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}

	plaintext, ok := box.Open(nil, ciphertext, &nonce, &senderPublic, &orgPrivate)
	if !ok {
		return nil, ErrOpen
	}
	return plaintext, nil
}
