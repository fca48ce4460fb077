// Package memory is an in-process CRM used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/louisbranch/actionsync/internal/services/sync/crm"
	"github.com/louisbranch/actionsync/internal/services/sync/domain"
)

// Operation names passed to hooks and counted by Calls.
const (
	OpFind     = "find"
	OpCreate   = "create"
	OpRetrieve = "retrieve"
	OpUpdate   = "update"
	OpUpsert   = "upsert"
)

// Hook runs before every operation. A non-nil error fails the call.
type Hook func(ctx context.Context, op, object string) error

var idPrefixes = map[string]string{
	crm.ObjectCampaign:       "701",
	crm.ObjectContact:        "003",
	crm.ObjectLead:           "00Q",
	crm.ObjectCampaignMember: "00v",
}

// Client is a CRM held in memory. Like the REST API, upserts that take the
// update path do not report the id.
type Client struct {
	mu     sync.Mutex
	tables map[string][]crm.Record
	seq    int
	calls  map[string]int
	hook   Hook
}

// New returns an empty CRM.
func New() *Client {
	return &Client{
		tables: make(map[string][]crm.Record),
		calls:  make(map[string]int),
	}
}

// SetHook installs hook, replacing any previous one.
func (c *Client) SetHook(hook Hook) {
	c.mu.Lock()
	c.hook = hook
	c.mu.Unlock()
}

// Calls reports how many times op ran against object.
func (c *Client) Calls(op, object string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op+":"+object]
}

// Records returns a copy of every row of object.
func (c *Client) Records(object string) []crm.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := c.tables[object]
	out := make([]crm.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, maps.Clone(row))
	}
	return out
}

// Seed inserts a row without validation and returns its id.
func (c *Client) Seed(object string, fields crm.Record) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insert(object, fields)
}

func (c *Client) enter(ctx context.Context, op, object string) error {
	if err := ctx.Err(); err != nil {
		return domain.Transient(fmt.Errorf("%s %s: %w", op, object, err))
	}
	c.mu.Lock()
	c.calls[op+":"+object]++
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		return hook(ctx, op, object)
	}
	return nil
}

// Find returns rows of object matching every condition, ignoring case.
func (c *Client) Find(ctx context.Context, object string, where []crm.Match, fields []string) ([]crm.Record, error) {
	if err := c.enter(ctx, OpFind, object); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []crm.Record
	for _, row := range c.tables[object] {
		if matches(row, where) {
			out = append(out, project(row, fields))
		}
	}
	return out, nil
}

// Create inserts a row.
func (c *Client) Create(ctx context.Context, object string, fields crm.Record) (crm.SaveResult, error) {
	if err := c.enter(ctx, OpCreate, object); err != nil {
		return crm.SaveResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if errs := validate(object, fields); len(errs) > 0 {
		return crm.SaveResult{Errors: errs}, nil
	}
	if object == crm.ObjectCampaignMember && c.memberExists(fields) {
		return crm.SaveResult{Errors: crm.RemoteErrors{{
			Code:    crm.CodeDuplicateValue,
			Message: "Already a campaign member.",
		}}}, nil
	}
	id := c.insert(object, fields)
	return crm.SaveResult{ID: id, Success: true, Created: true}, nil
}

// Retrieve returns the row with id.
func (c *Client) Retrieve(ctx context.Context, object, id string) (crm.Record, error) {
	if err := c.enter(ctx, OpRetrieve, object); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.row(object, id)
	if !ok {
		return nil, domain.Transient(fmt.Errorf("%s %s: %w", object, id, crm.ErrNotFound))
	}
	return maps.Clone(row), nil
}

// Update merges fields into the row with id.
func (c *Client) Update(ctx context.Context, object, id string, fields crm.Record) (crm.SaveResult, error) {
	if err := c.enter(ctx, OpUpdate, object); err != nil {
		return crm.SaveResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.row(object, id)
	if !ok {
		return crm.SaveResult{Errors: crm.RemoteErrors{{
			Code:    "ENTITY_IS_DELETED",
			Message: fmt.Sprintf("%s %s does not exist", object, id),
		}}}, nil
	}
	if errs := validate(object, mergedView(row, fields)); len(errs) > 0 {
		return crm.SaveResult{Errors: errs}, nil
	}
	maps.Copy(row, fields)
	return crm.SaveResult{ID: id, Success: true}, nil
}

// Upsert updates the first row whose keyField equals keyValue, or inserts
// one. The update path reports no id.
func (c *Client) Upsert(ctx context.Context, object, keyField, keyValue string, fields crm.Record) (crm.SaveResult, error) {
	if err := c.enter(ctx, OpUpsert, object); err != nil {
		return crm.SaveResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	full := maps.Clone(fields)
	full[keyField] = keyValue
	for _, row := range c.tables[object] {
		if matches(row, []crm.Match{{Field: keyField, Value: keyValue}}) {
			if errs := validate(object, mergedView(row, full)); len(errs) > 0 {
				return crm.SaveResult{Errors: errs}, nil
			}
			maps.Copy(row, full)
			return crm.SaveResult{Success: true}, nil
		}
	}
	if errs := validate(object, full); len(errs) > 0 {
		return crm.SaveResult{Errors: errs}, nil
	}
	id := c.insert(object, full)
	return crm.SaveResult{ID: id, Success: true, Created: true}, nil
}

func (c *Client) insert(object string, fields crm.Record) string {
	c.seq++
	prefix := idPrefixes[object]
	if prefix == "" {
		prefix = "a00"
	}
	id := fmt.Sprintf("%s%012d", prefix, c.seq)
	row := maps.Clone(fields)
	if row == nil {
		row = crm.Record{}
	}
	row["Id"] = id
	c.tables[object] = append(c.tables[object], row)
	return id
}

func (c *Client) row(object, id string) (crm.Record, bool) {
	for _, row := range c.tables[object] {
		if row.ID() == id {
			return row, true
		}
	}
	return nil, false
}

func (c *Client) memberExists(fields crm.Record) bool {
	for _, row := range c.tables[crm.ObjectCampaignMember] {
		if row.String("CampaignId") != fields.String("CampaignId") {
			continue
		}
		if contact := fields.String("ContactId"); contact != "" && row.String("ContactId") == contact {
			return true
		}
		if lead := fields.String("LeadId"); lead != "" && row.String("LeadId") == lead {
			return true
		}
	}
	return false
}

func matches(row crm.Record, where []crm.Match) bool {
	for _, cond := range where {
		if !strings.EqualFold(fmt.Sprint(row[cond.Field]), cond.Value) {
			return false
		}
	}
	return true
}

func project(row crm.Record, fields []string) crm.Record {
	if len(fields) == 0 {
		return maps.Clone(row)
	}
	out := crm.Record{"Id": row["Id"]}
	for _, field := range fields {
		if value, ok := row[field]; ok {
			out[field] = value
		}
	}
	return out
}

func mergedView(row, fields crm.Record) crm.Record {
	merged := maps.Clone(row)
	maps.Copy(merged, fields)
	return merged
}

func validate(object string, fields crm.Record) crm.RemoteErrors {
	var errs crm.RemoteErrors
	if email, ok := fields["Email"].(string); ok && !strings.Contains(email, "@") {
		errs = append(errs, crm.RemoteError{
			Code:    crm.CodeInvalidEmailAddress,
			Message: "invalid email address: " + email,
			Fields:  []string{"Email"},
		})
	}
	required := map[string][]string{
		crm.ObjectCampaign: {"Name"},
		crm.ObjectContact:  {"LastName"},
		crm.ObjectLead:     {"LastName", "Company"},
	}[object]
	for _, field := range required {
		if value, _ := fields[field].(string); strings.TrimSpace(value) == "" {
			errs = append(errs, crm.RemoteError{
				Code:    "REQUIRED_FIELD_MISSING",
				Message: "Required fields are missing: [" + field + "]",
				Fields:  []string{field},
			})
		}
	}
	return errs
}
