package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
)

// Identity is the supporter data written to a Contact or Lead.
type Identity struct {
	FirstName string
	LastName  string
	Email     string
	Country   string
	Postcode  string
}

// IdentityFromContact copies the reconciled fields of decrypted personal
// data.
func IdentityFromContact(pii domain.DecryptedContact) Identity {
	return Identity{
		FirstName: strings.TrimSpace(pii.FirstName),
		LastName:  strings.TrimSpace(pii.LastName),
		Email:     strings.TrimSpace(pii.Email),
		Country:   strings.TrimSpace(pii.Address.Country),
		Postcode:  strings.TrimSpace(pii.Address.Postcode),
	}
}

// ReconciliationError reports an upsert the CRM refused.
type ReconciliationError struct {
	Kind   domain.IdentityKind
	Email  string
	Errors RemoteErrors
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("upsert %s %s: %s", e.Kind, e.Email, e.Errors.Error())
}

// Placeholders for fields the CRM requires but actions may not carry.
const (
	missingLastName = "-"
	missingCompany  = "[not provided]"
)

// Reconciler finds or creates the Contact or Lead for an email.
type Reconciler struct {
	client Client
	kind   domain.IdentityKind
}

// NewReconciler builds a reconciler writing identities of kind.
func NewReconciler(client Client, kind domain.IdentityKind) *Reconciler {
	if kind == "" {
		kind = domain.IdentityContact
	}
	return &Reconciler{client: client, kind: kind}
}

// Kind reports the identity kind written.
func (r *Reconciler) Kind() domain.IdentityKind {
	return r.kind
}

// Upsert creates or updates the identity keyed by email and returns a
// reference to it.
func (r *Reconciler) Upsert(ctx context.Context, identity Identity) (domain.IdentityRef, error) {
	email := strings.TrimSpace(identity.Email)
	if email == "" {
		return domain.IdentityRef{}, domain.Validation(errors.New("contact has no email"))
	}
	object := objectFor(r.kind)

	result, err := r.client.Upsert(ctx, object, "Email", email, r.fields(identity))
	if err != nil {
		return domain.IdentityRef{}, fmt.Errorf("upsert %s: %w", object, err)
	}
	if !result.Success {
		cause := &ReconciliationError{Kind: r.kind, Email: email, Errors: result.Errors}
		if result.Errors.Validation() {
			return domain.IdentityRef{}, domain.Validation(cause)
		}
		return domain.IdentityRef{}, domain.Transient(cause)
	}
	if result.ID != "" {
		return domain.RefFor(r.kind, result.ID)
	}

	// The update path of an upsert may not return the id.
	record, found, err := r.findByEmail(ctx, object, email)
	if err != nil {
		return domain.IdentityRef{}, err
	}
	if !found {
		return domain.IdentityRef{}, domain.Transient(fmt.Errorf("%s %s upserted but not found", object, email))
	}
	return domain.RefFor(r.kind, record.ID())
}

func (r *Reconciler) fields(identity Identity) Record {
	lastName := identity.LastName
	if lastName == "" {
		lastName = missingLastName
	}
	fields := Record{
		"FirstName": identity.FirstName,
		"LastName":  lastName,
	}
	switch r.kind {
	case domain.IdentityLead:
		fields["Company"] = missingCompany
		setIfPresent(fields, "Country", identity.Country)
		setIfPresent(fields, "PostalCode", identity.Postcode)
	default:
		setIfPresent(fields, "MailingCountry", identity.Country)
		setIfPresent(fields, "MailingPostalCode", identity.Postcode)
	}
	return fields
}

func setIfPresent(fields Record, name, value string) {
	if value != "" {
		fields[name] = value
	}
}

func (r *Reconciler) findByEmail(ctx context.Context, object, email string) (Record, bool, error) {
	records, err := r.client.Find(ctx, object, []Match{{Field: "Email", Value: email}}, identityFields)
	if err != nil {
		return nil, false, fmt.Errorf("find %s by email: %w", object, err)
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[0], true, nil
}

var identityFields = []string{"Id", "FirstName", "LastName", "Email"}

// Lookup is every identity the CRM holds for one email.
type Lookup struct {
	Email    string   `json:"email"`
	Contacts []Record `json:"contacts"`
	Leads    []Record `json:"leads"`
}

// LookupEmail returns the Contacts and Leads holding email.
func LookupEmail(ctx context.Context, client Client, email string) (Lookup, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return Lookup{}, domain.Validation(errors.New("email is required"))
	}
	where := []Match{{Field: "Email", Value: email}}
	contacts, err := client.Find(ctx, ObjectContact, where, identityFields)
	if err != nil {
		return Lookup{}, fmt.Errorf("find contacts: %w", err)
	}
	leads, err := client.Find(ctx, ObjectLead, where, identityFields)
	if err != nil {
		return Lookup{}, fmt.Errorf("find leads: %w", err)
	}
	return Lookup{Email: email, Contacts: nonNil(contacts), Leads: nonNil(leads)}, nil
}

func nonNil(records []Record) []Record {
	if records == nil {
		return []Record{}
	}
	return records
}

func objectFor(kind domain.IdentityKind) string {
	if kind == domain.IdentityLead {
		return ObjectLead
	}
	return ObjectContact
}
