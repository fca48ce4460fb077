package domain

import (
	"fmt"
	"strings"
)

// IdentityKind selects which CRM record type an action reconciles into.
type IdentityKind string

const (
	IdentityContact IdentityKind = "contact"
	IdentityLead    IdentityKind = "lead"
)

// ParseIdentityKind parses a configured identity kind.
func ParseIdentityKind(value string) (IdentityKind, error) {
	switch IdentityKind(strings.ToLower(strings.TrimSpace(value))) {
	case IdentityContact, "":
		return IdentityContact, nil
	case IdentityLead:
		return IdentityLead, nil
	default:
		return "", fmt.Errorf("unknown identity kind %q", value)
	}
}

// IdentityRef references exactly one reconciled Contact or Lead. The zero
// value references nothing.
type IdentityRef struct {
	kind IdentityKind
	id   string
}

// ContactRef references a Contact by external id.
func ContactRef(id string) IdentityRef {
	return IdentityRef{kind: IdentityContact, id: strings.TrimSpace(id)}
}

// LeadRef references a Lead by external id.
func LeadRef(id string) IdentityRef {
	return IdentityRef{kind: IdentityLead, id: strings.TrimSpace(id)}
}

// RefFor references id as the given kind.
func RefFor(kind IdentityKind, id string) (IdentityRef, error) {
	switch kind {
	case IdentityContact:
		return ContactRef(id), nil
	case IdentityLead:
		return LeadRef(id), nil
	default:
		return IdentityRef{}, Logic(fmt.Errorf("unknown identity kind %q", kind))
	}
}

// NewIdentityRef builds a reference from a pair of optional ids, as found on
// CRM membership rows. Exactly one must be set.
func NewIdentityRef(contactID, leadID string) (IdentityRef, error) {
	contactID = strings.TrimSpace(contactID)
	leadID = strings.TrimSpace(leadID)
	switch {
	case contactID != "" && leadID != "":
		return IdentityRef{}, Logic(fmt.Errorf("identity references both contact %s and lead %s", contactID, leadID))
	case contactID != "":
		return ContactRef(contactID), nil
	case leadID != "":
		return LeadRef(leadID), nil
	default:
		return IdentityRef{}, Logic(fmt.Errorf("identity reference is empty"))
	}
}

// Kind reports the referenced record type.
func (r IdentityRef) Kind() IdentityKind { return r.kind }

// ID reports the external id.
func (r IdentityRef) ID() string { return r.id }

// Validate fails with a logic error unless the reference names one record.
func (r IdentityRef) Validate() error {
	if r.id == "" {
		return Logic(fmt.Errorf("identity reference is empty"))
	}
	if r.kind != IdentityContact && r.kind != IdentityLead {
		return Logic(fmt.Errorf("unknown identity kind %q", r.kind))
	}
	return nil
}

func (r IdentityRef) String() string {
	if r.id == "" {
		return "<none>"
	}
	return string(r.kind) + ":" + r.id
}
