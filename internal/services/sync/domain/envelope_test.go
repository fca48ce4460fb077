package domain

import (
	"testing"
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return decoder
}

func TestDecodeActionMessage(t *testing.T) {
	decoder := newTestDecoder(t)

	env, err := decoder.Decode([]byte(`{
		"schema": "proca:action:2",
		"actionId": 42,
		"actionPageId": 7,
		"orgId": 3,
		"action": {"actionType": "signature", "customFields": [{"key": "comment", "value": " hi "}]},
		"actionPage": {"name": "bees/en", "locale": "en"},
		"campaign": {"name": "Save Bees"},
		"contact": {"contactRef": "ref-1", "pii": {"email": "a@x.com", "firstName": "Ann"}},
		"privacy": {"optIn": true},
		"tracking": {"source": "newsletter", "medium": "email", "campaign": "spring", "content": "a"}
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != EnvelopeAction || env.Action == nil {
		t.Fatalf("kind = %v, want action", env.Kind)
	}
	action := env.Action
	if action.ActionID != 42 {
		t.Fatalf("action id = %d, want 42", action.ActionID)
	}
	if action.Campaign.Name != "Save Bees" {
		t.Fatalf("campaign = %q, want %q", action.Campaign.Name, "Save Bees")
	}
	if !action.Contact.Plaintext() {
		t.Fatal("expected plaintext contact")
	}
	if got, ok := action.Action.Field("comment"); !ok || got != "hi" {
		t.Fatalf("comment field = %q, %v", got, ok)
	}
	if action.Tracking == nil || action.Tracking.Source != "newsletter" {
		t.Fatalf("tracking = %+v", action.Tracking)
	}
}

func TestDecodeEventMessageRoutesToEvent(t *testing.T) {
	decoder := newTestDecoder(t)

	env, err := decoder.Decode([]byte(`{"schema":"proca:event:2","eventType":"email_status","orgId":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != EnvelopeEvent || env.Event == nil {
		t.Fatalf("kind = %v, want event", env.Kind)
	}
	if env.Event.EventType != "email_status" {
		t.Fatalf("event type = %q", env.Event.EventType)
	}
}

func TestDecodeUnknownSchemaIsNotAnError(t *testing.T) {
	decoder := newTestDecoder(t)

	env, err := decoder.Decode([]byte(`{"schema":"proca:action:3","actionId":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != EnvelopeUnknown {
		t.Fatalf("kind = %v, want unknown", env.Kind)
	}
	if env.Schema != "proca:action:3" {
		t.Fatalf("schema = %q", env.Schema)
	}
}

func TestDecodeMalformedBodiesAreParseErrors(t *testing.T) {
	decoder := newTestDecoder(t)

	cases := map[string]string{
		"not json":         `{"schema":`,
		"not an object":    `["proca:action:2"]`,
		"missing campaign": `{"schema":"proca:action:2","actionId":1,"action":{"actionType":"signature"},"contact":{}}`,
		"empty type":       `{"schema":"proca:action:2","actionId":1,"action":{"actionType":""},"campaign":{"name":"c"},"contact":{}}`,
		"fractional id":    `{"schema":"proca:action:2","actionId":1.5,"action":{"actionType":"s"},"campaign":{"name":"c"},"contact":{}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decoder.Decode([]byte(body))
			if err == nil {
				t.Fatal("expected error")
			}
			if KindOf(err) != KindParse {
				t.Fatalf("kind = %q, want parse", KindOf(err))
			}
			if Classify(err) != OutcomeIgnored {
				t.Fatalf("outcome = %q, want ignored", Classify(err))
			}
		})
	}
}

func TestContactEncryptedWithoutPII(t *testing.T) {
	if (Contact{Payload: "x"}).Encrypted() {
		t.Fatal("payload without key material is unencrypted")
	}
	if !(Contact{Payload: "x", Nonce: "n"}).Encrypted() {
		t.Fatal("payload with nonce is encrypted")
	}
	if !(Contact{Payload: "x", PublicKey: &Key{Public: "k"}}).Encrypted() {
		t.Fatal("payload with public key is encrypted")
	}
	if !(Contact{Payload: "x", SignKey: &Key{Public: "k"}}).Encrypted() {
		t.Fatal("payload with sign key is encrypted")
	}
	if (Contact{Payload: "x", Nonce: "n", PII: &DecryptedContact{}}).Encrypted() {
		t.Fatal("pii wins over nonce")
	}
}
