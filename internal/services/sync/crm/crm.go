// Package crm reconciles actions into the relationship-management system:
// campaigns, supporter identities and campaign memberships.
package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
)

// Object names used by the pipeline.
const (
	ObjectCampaign       = "Campaign"
	ObjectContact        = "Contact"
	ObjectLead           = "Lead"
	ObjectCampaignMember = "CampaignMember"
)

// ErrNotFound reports a retrieve of an id the CRM does not hold.
var ErrNotFound = errors.New("record not found")

// Match is one equality condition of a find.
type Match struct {
	Field string
	Value string
}

// Client is the CRM collaborator. Implementations return classified
// domain errors for transport failures; rejected writes come back as a
// SaveResult with Success unset.
type Client interface {
	Find(ctx context.Context, object string, where []Match, fields []string) ([]Record, error)
	Create(ctx context.Context, object string, fields Record) (SaveResult, error)
	Retrieve(ctx context.Context, object, id string) (Record, error)
	Update(ctx context.Context, object, id string, fields Record) (SaveResult, error)
	// Upsert creates or updates the record whose keyField equals keyValue.
	// Some backends omit the id when the update path was taken.
	Upsert(ctx context.Context, object, keyField, keyValue string, fields Record) (SaveResult, error)
}

// Record is one CRM row keyed by field name.
type Record map[string]any

// ID returns the record id.
func (r Record) ID() string {
	if id := r.String("Id"); id != "" {
		return id
	}
	return r.String("id")
}

// String returns field as a string, or "" when it is absent or not a string.
func (r Record) String(field string) string {
	value, _ := r[field].(string)
	return value
}

// SaveResult is the outcome of a write.
type SaveResult struct {
	ID      string
	Success bool
	Created bool
	Errors  RemoteErrors
}

// Err reports a failed save as a classified error.
func (r SaveResult) Err(op string) error {
	if r.Success {
		return nil
	}
	return r.Errors.Classify(op)
}

// Remote error codes the pipeline acts on.
const (
	CodeDuplicateValue      = "DUPLICATE_VALUE"
	CodeDuplicatesDetected  = "DUPLICATES_DETECTED"
	CodeInvalidEmailAddress = "INVALID_EMAIL_ADDRESS"
)

var validationCodes = map[string]struct{}{
	CodeInvalidEmailAddress:                   {},
	"REQUIRED_FIELD_MISSING":                  {},
	"FIELD_CUSTOM_VALIDATION_EXCEPTION":       {},
	"STRING_TOO_LONG":                         {},
	"INVALID_FIELD":                           {},
	"INVALID_OR_NULL_FOR_RESTRICTED_PICKLIST": {},
	"FIELD_INTEGRITY_EXCEPTION":               {},
	"INVALID_TYPE":                            {},
	"MALFORMED_ID":                            {},
	"JSON_PARSER_ERROR":                       {},
	"INVALID_FIELD_FOR_INSERT_UPDATE":         {},
}

// RemoteError is one error reported by the CRM.
type RemoteError struct {
	Code    string
	Message string
	Fields  []string
}

func (e RemoteError) String() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(e.Fields, ", "))
}

// RemoteErrors is the error list of a failed save.
type RemoteErrors []RemoteError

func (e RemoteErrors) Error() string {
	if len(e) == 0 {
		return "remote save failed without errors"
	}
	parts := make([]string, 0, len(e))
	for _, item := range e {
		parts = append(parts, item.String())
	}
	return strings.Join(parts, "; ")
}

// Has reports whether any error carries one of codes.
func (e RemoteErrors) Has(codes ...string) bool {
	for _, item := range e {
		for _, code := range codes {
			if item.Code == code {
				return true
			}
		}
	}
	return false
}

// Duplicate reports whether a concurrent writer already created the row.
func (e RemoteErrors) Duplicate() bool {
	return e.Has(CodeDuplicateValue, CodeDuplicatesDetected)
}

// Validation reports whether the CRM rejected the data itself.
func (e RemoteErrors) Validation() bool {
	for _, item := range e {
		if IsValidationCode(item.Code) {
			return true
		}
	}
	return false
}

// Classify returns the list as a validation error when the CRM rejected the
// data and as a transient error otherwise.
func (e RemoteErrors) Classify(op string) error {
	err := fmt.Errorf("%s: %w", op, e)
	if e.Validation() {
		return domain.Validation(err)
	}
	return domain.Transient(err)
}

// IsValidationCode reports whether code means the data is invalid.
func IsValidationCode(code string) bool {
	_, ok := validationCodes[code]
	return ok
}

// Campaign is the CRM view of a campaign.
type Campaign struct {
	ID   string
	Name string
	Type string
}

func campaignFromRecord(record Record) Campaign {
	return Campaign{
		ID:   record.ID(),
		Name: record.String("Name"),
		Type: record.String("Type"),
	}
}
