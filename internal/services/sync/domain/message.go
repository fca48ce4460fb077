package domain

import "strings"

// Schema tags carried by every queue message.
const (
	ActionSchema = "proca:action:2"
	EventSchema  = "proca:event:2"
)

// ActionMessage is one supporter action as delivered by the queue. It is
// immutable once decoded; redeliveries carry the same ActionID.
type ActionMessage struct {
	Schema       string     `json:"schema"`
	ActionID     int64      `json:"actionId"`
	ActionPageID int64      `json:"actionPageId"`
	CampaignID   int64      `json:"campaignId"`
	OrgID        int64      `json:"orgId"`
	Action       Action     `json:"action"`
	ActionPage   ActionPage `json:"actionPage"`
	Campaign     Campaign   `json:"campaign"`
	Contact      Contact    `json:"contact"`
	Privacy      Privacy    `json:"privacy"`
	Tracking     *Tracking  `json:"tracking,omitempty"`
}

// Action describes what the supporter did.
type Action struct {
	ActionType   string        `json:"actionType"`
	CreatedAt    string        `json:"createdAt"`
	CustomFields []CustomField `json:"customFields,omitempty"`
}

// CustomField is one free-form key/value captured by the action page.
type CustomField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ActionPage references the page the action was taken on.
type ActionPage struct {
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

// Campaign names the campaign the action belongs to.
type Campaign struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

// Contact carries the supporter's personal data, either as ciphertext in
// Payload or already opened in PII.
type Contact struct {
	Ref       string            `json:"contactRef"`
	Payload   string            `json:"payload,omitempty"`
	Nonce     string            `json:"nonce,omitempty"`
	PublicKey *Key              `json:"publicKey,omitempty"`
	SignKey   *Key              `json:"signKey,omitempty"`
	PII       *DecryptedContact `json:"pii,omitempty"`
}

// Key identifies one registered public key.
type Key struct {
	ID     int64  `json:"id"`
	Public string `json:"public"`
}

// Plaintext reports whether the contact was delivered with opened PII.
func (c Contact) Plaintext() bool {
	return c.PII != nil
}

// Encrypted reports whether Payload must be opened before use. Any declared
// key material or nonce marks the payload as ciphertext.
func (c Contact) Encrypted() bool {
	if c.PII != nil {
		return false
	}
	return c.PublicKey != nil || c.SignKey != nil || strings.TrimSpace(c.Nonce) != ""
}

// DecryptedContact is the personal data of one supporter.
type DecryptedContact struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	Address   Address `json:"address"`
}

// Address is the postal part of a contact.
type Address struct {
	Country  string `json:"country,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

// Privacy records the consent given with the action.
type Privacy struct {
	OptIn   bool   `json:"optIn"`
	GivenAt string `json:"givenAt,omitempty"`
}

// Tracking holds the UTM parameters of the action.
type Tracking struct {
	Source   string `json:"source"`
	Medium   string `json:"medium"`
	Campaign string `json:"campaign"`
	Content  string `json:"content"`
}

// Field returns the trimmed value of the first custom field named key.
func (a Action) Field(key string) (string, bool) {
	for _, field := range a.CustomFields {
		if field.Key == key {
			return strings.TrimSpace(field.Value), true
		}
	}
	return "", false
}

// EventMessage is a non-action queue message. It is routed to the ignore
// path.
type EventMessage struct {
	Schema    string `json:"schema"`
	EventType string `json:"eventType"`
	Timestamp string `json:"timestamp"`
	OrgID     int64  `json:"orgId"`
}
