// Package decrypt opens encrypted contact payloads before reconciliation.
package decrypt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
)

// Sealed is one encrypted contact payload together with the keys it was
// sealed for.
type Sealed struct {
	Payload string
	Nonce   string
	// PublicKey is the organization key the payload was sealed to.
	PublicKey domain.Key
	// SignKey is the sender key used to authenticate the payload.
	SignKey domain.Key
}

// Decrypter opens sealed payloads. Implementations report a payload that
// cannot be opened with an error; the gate marks it fatal.
type Decrypter interface {
	Decrypt(ctx context.Context, sealed Sealed) ([]byte, error)
}

// Gate turns an action contact into plaintext personal data.
type Gate struct {
	decrypter Decrypter
	timeout   time.Duration
}

// NewGate builds a gate. A nil decrypter is allowed: plaintext contacts still
// pass, and encrypted contacts fail with a decryption error.
func NewGate(decrypter Decrypter, timeout time.Duration) *Gate {
	return &Gate{decrypter: decrypter, timeout: timeout}
}

// Open returns the contact's personal data. Contacts delivered with opened
// PII are returned as is without calling the decrypter.
func (g *Gate) Open(ctx context.Context, contact domain.Contact) (domain.DecryptedContact, error) {
	if contact.Plaintext() {
		return *contact.PII, nil
	}
	if !contact.Encrypted() {
		var pii domain.DecryptedContact
		if err := json.Unmarshal([]byte(contact.Payload), &pii); err != nil {
			return domain.DecryptedContact{}, domain.Decryption(fmt.Errorf("decode unencrypted contact payload: %w", err))
		}
		return pii, nil
	}

	sealed, err := sealedFrom(contact)
	if err != nil {
		return domain.DecryptedContact{}, err
	}
	if g == nil || g.decrypter == nil {
		return domain.DecryptedContact{}, domain.Decryption(errors.New("no key material configured for encrypted contact"))
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	plaintext, err := g.decrypter.Decrypt(callCtx, sealed)
	if err != nil {
		return domain.DecryptedContact{}, classify(err)
	}

	var pii domain.DecryptedContact
	if err := json.Unmarshal(plaintext, &pii); err != nil {
		return domain.DecryptedContact{}, domain.Decryption(fmt.Errorf("decode decrypted contact: %w", err))
	}
	return pii, nil
}

func sealedFrom(contact domain.Contact) (Sealed, error) {
	if strings.TrimSpace(contact.Nonce) == "" {
		return Sealed{}, domain.Decryption(errors.New("encrypted contact has no nonce"))
	}
	if contact.PublicKey == nil || strings.TrimSpace(contact.PublicKey.Public) == "" {
		return Sealed{}, domain.Decryption(errors.New("encrypted contact has no public key"))
	}
	if contact.SignKey == nil || strings.TrimSpace(contact.SignKey.Public) == "" {
		return Sealed{}, domain.Decryption(errors.New("encrypted contact has no sign key"))
	}
	return Sealed{
		Payload:   contact.Payload,
		Nonce:     contact.Nonce,
		PublicKey: *contact.PublicKey,
		SignKey:   *contact.SignKey,
	}, nil
}

// classify keeps errors a decrypter already classified and timeouts
// transient; everything else is an integrity failure.
func classify(err error) error {
	var classified *domain.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Transient(fmt.Errorf("decrypt contact: %w", err))
	}
	return domain.Decryption(fmt.Errorf("decrypt contact: %w", err))
}
