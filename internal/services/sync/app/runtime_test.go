package app

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/louisbranch/actionsync/internal/services/sync/forward"
)

const saveBeesAction = `{
	"schema": "proca:action:2",
	"actionId": 7,
	"actionPageId": 1,
	"action": {"actionType": "signature"},
	"campaign": {"name": "Save Bees"},
	"contact": {"contactRef": "ref-1", "pii": {"email": "a@x.com", "firstName": "Ann"}},
	"privacy": {"optIn": true}
}`

func TestRunRequiresMode(t *testing.T) {
	err := Run(context.Background(), RuntimeConfig{DryRun: true}, Modes{})
	if err == nil || !strings.Contains(err.Error(), "no mode") {
		t.Fatalf("err = %v, want no mode error", err)
	}
}

func TestRunEmailLookupDryRun(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), RuntimeConfig{DryRun: true}, Modes{Email: "a@x.com", Output: &out})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `"email": "a@x.com"`) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestBuildRequiresCRMSettingsOutsideDryRun(t *testing.T) {
	_, err := build(RuntimeConfig{}, nil)
	if err == nil || !strings.Contains(err.Error(), "ACTIONSYNC_CRM_LOGIN_URL") {
		t.Fatalf("err = %v, want missing CRM settings", err)
	}
}

func TestBuildRejectsMissingKeysFile(t *testing.T) {
	_, err := build(RuntimeConfig{DryRun: true, KeysPath: filepath.Join(t.TempDir(), "missing.json")}, nil)
	if err == nil {
		t.Fatal("expected load keys error")
	}
}

func TestNewLambdaDryRunSyncsAndRecords(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "sync.db")
	handler, closeFn, err := NewLambda(RuntimeConfig{DryRun: true, DBPath: dbPath, Lambda: LambdaConfig{PartialBatch: true}})
	if err != nil {
		t.Fatalf("new lambda: %v", err)
	}

	event := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m-1", Body: saveBeesAction},
		{MessageId: "m-2", Body: `{"schema":"proca:event:2","eventType":"email_status"}`},
	}}
	resp, err := handler.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("failures = %+v", resp.BatchItemFailures)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store := openStoreAt(t, dbPath)
	attempts, err := store.ListAttempts(context.Background(), 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts len = %d, want 2", len(attempts))
	}
	outcomes := map[string]string{}
	for _, attempt := range attempts {
		outcomes[attempt.DeliveryID] = attempt.Outcome
	}
	if outcomes["m-1"] != "acked" || outcomes["m-2"] != "ignored" {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestBuildPauseWithoutForwarderWarns(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	svc, err := build(RuntimeConfig{DryRun: true, Pause: true}, strings.NewReader(""))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if svc.pause != nil {
		t.Fatal("pause gate should not be built without a forwarder")
	}
	if !strings.Contains(logs.String(), "pause ignored") {
		t.Fatalf("logs = %q, want pause warning", logs.String())
	}
}

func TestBuildPauseWithForwarder(t *testing.T) {
	svc, err := build(RuntimeConfig{
		DryRun:  true,
		Pause:   true,
		Forward: forward.Config{ForwardURL: "http://127.0.0.1:1/actions", VerifyURL: "http://127.0.0.1:1/verify/{token}"},
	}, strings.NewReader(""))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if svc.pause == nil {
		t.Fatal("expected pause gate with a forwarder")
	}
}
