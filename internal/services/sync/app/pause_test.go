package app

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
)

func TestPauseGateResumesOnInputLine(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()
	gate := NewPauseGate(reader)

	gate.afterForward(context.Background(), domain.Result{ActionID: 7})
	if !gate.Paused() {
		t.Fatal("expected gate to be paused after forward")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gate.Wait(ctx); err == nil {
		t.Fatal("expected wait to block until deadline")
	}

	done := make(chan error, 1)
	go func() {
		done <- gate.Wait(context.Background())
	}()
	if _, err := io.WriteString(writer, "\n"); err != nil {
		t.Fatalf("write resume line: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not resume")
	}
	if gate.Paused() {
		t.Fatal("expected gate to be resumed")
	}
}

func TestPauseGateResumesOnEOF(t *testing.T) {
	gate := NewPauseGate(strings.NewReader(""))
	gate.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := gate.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestPauseGateResumeAndNil(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()
	gate := NewPauseGate(reader)
	gate.Pause()
	gate.Resume()
	if gate.Paused() {
		t.Fatal("expected resume to open the gate")
	}
	if err := gate.Wait(context.Background()); err != nil {
		t.Fatalf("wait on open gate: %v", err)
	}

	var nilGate *PauseGate
	if err := nilGate.Wait(context.Background()); err != nil {
		t.Fatalf("nil gate wait: %v", err)
	}
}
