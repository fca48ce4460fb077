package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/actionsync/internal/services/sync/crm"
	"github.com/louisbranch/actionsync/internal/services/sync/crm/memory"
)

func seededCRM() *memory.Client {
	client := memory.New()
	client.Seed(crm.ObjectContact, crm.Record{"Email": "ann@example.org", "LastName": "Lee"})
	client.Seed(crm.ObjectLead, crm.Record{"Email": "ann@example.org", "LastName": "Lee", "Company": "[not provided]"})
	return client
}

func TestPrintLookupWritesJSON(t *testing.T) {
	var out bytes.Buffer
	if err := PrintLookup(context.Background(), seededCRM(), "ann@example.org", &out); err != nil {
		t.Fatalf("print lookup: %v", err)
	}
	var lookup crm.Lookup
	if err := json.Unmarshal(out.Bytes(), &lookup); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if lookup.Email != "ann@example.org" || len(lookup.Contacts) != 1 || len(lookup.Leads) != 1 {
		t.Fatalf("lookup = %+v", lookup)
	}
}

func TestLookupHandler(t *testing.T) {
	failing := memory.New()
	failing.SetHook(func(context.Context, string, string) error {
		return errors.New("crm down")
	})

	cases := []struct {
		name   string
		client crm.Client
		target string
		status int
		body   string
	}{
		{name: "health", client: memory.New(), target: "/healthz", status: http.StatusOK, body: "ok"},
		{name: "found", client: seededCRM(), target: "/lookup?email=ann@example.org", status: http.StatusOK, body: `"contacts"`},
		{name: "missing email", client: memory.New(), target: "/lookup", status: http.StatusBadRequest, body: "email is required"},
		{name: "crm failure", client: failing, target: "/lookup?email=ann@example.org", status: http.StatusBadGateway, body: "lookup failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewLookupHandler(tc.client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if !strings.Contains(rec.Body.String(), tc.body) {
				t.Fatalf("body = %q, want it to contain %q", rec.Body.String(), tc.body)
			}
		})
	}
}

func TestLookupHandlerRejectsOtherMethods(t *testing.T) {
	rec := httptest.NewRecorder()
	NewLookupHandler(memory.New()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lookup?email=a@x.com", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestServeLookupStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeLookup(ctx, "127.0.0.1:0", NewLookupHandler(memory.New()))
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve lookup: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("lookup server did not stop")
	}
}
