package domain

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed action.schema.json
var actionSchemaJSON []byte

const actionSchemaURL = "https://actionsync.local/schemas/action-v2.schema.json"

// EnvelopeKind discriminates decoded queue messages.
type EnvelopeKind int

const (
	EnvelopeUnknown EnvelopeKind = iota
	EnvelopeAction
	EnvelopeEvent
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeAction:
		return "action"
	case EnvelopeEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Envelope is a decoded queue message. Exactly one of Action or Event is set
// for the matching kind; unknown envelopes carry only their schema tag.
type Envelope struct {
	Kind   EnvelopeKind
	Schema string
	Action *ActionMessage
	Event  *EventMessage
}

// Decoder parses raw queue bodies into envelopes.
type Decoder struct {
	actionSchema *jsonschema.Schema
}

// NewDecoder compiles the action envelope schema.
func NewDecoder() (*Decoder, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(actionSchemaURL, bytes.NewReader(actionSchemaJSON)); err != nil {
		return nil, fmt.Errorf("load action schema: %w", err)
	}
	compiled, err := c.Compile(actionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}
	return &Decoder{actionSchema: compiled}, nil
}

// Decode parses body. Unparseable bodies and actions that do not match the
// schema fail with a parse error; unknown schema tags decode to an
// EnvelopeUnknown without error.
func (d *Decoder) Decode(body []byte) (Envelope, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Envelope{}, Parse(fmt.Errorf("decode message body: %w", err))
	}
	object, ok := doc.(map[string]any)
	if !ok {
		return Envelope{}, Parse(fmt.Errorf("message body is not a JSON object"))
	}
	schema, _ := object["schema"].(string)
	schema = strings.TrimSpace(schema)

	switch schema {
	case ActionSchema:
		if err := d.actionSchema.Validate(doc); err != nil {
			return Envelope{Kind: EnvelopeAction, Schema: schema}, Parse(fmt.Errorf("invalid action message: %w", err))
		}
		var action ActionMessage
		if err := json.Unmarshal(body, &action); err != nil {
			return Envelope{Kind: EnvelopeAction, Schema: schema}, Parse(fmt.Errorf("decode action message: %w", err))
		}
		return Envelope{Kind: EnvelopeAction, Schema: schema, Action: &action}, nil
	case EventSchema:
		var event EventMessage
		if err := json.Unmarshal(body, &event); err != nil {
			return Envelope{Kind: EnvelopeEvent, Schema: schema}, Parse(fmt.Errorf("decode event message: %w", err))
		}
		return Envelope{Kind: EnvelopeEvent, Schema: schema, Event: &event}, nil
	default:
		return Envelope{Kind: EnvelopeUnknown, Schema: schema}, nil
	}
}
