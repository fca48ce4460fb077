package app

import (
	"bufio"
	"context"
	"io"
	"log"
	"sync"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
)

// PauseGate stops the intake of new deliveries after a forward until a line
// is read from its input. Deliveries already in flight keep running.
type PauseGate struct {
	input *bufio.Reader

	mu      sync.Mutex
	resumed chan struct{}
	reading bool
}

// NewPauseGate builds a gate resumed by lines read from input.
func NewPauseGate(input io.Reader) *PauseGate {
	return &PauseGate{input: bufio.NewReader(input)}
}

// Pause closes the gate. It returns at once.
func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resumed == nil {
		g.resumed = make(chan struct{})
	}
	if g.reading {
		return
	}
	g.reading = true
	go g.awaitLine()
}

// Paused reports whether intake is stopped.
func (g *PauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resumed != nil
}

// Resume opens the gate.
func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resumed != nil {
		close(g.resumed)
		g.resumed = nil
	}
}

// Wait blocks while the gate is closed.
func (g *PauseGate) Wait(ctx context.Context) error {
	if g == nil {
		return ctx.Err()
	}
	g.mu.Lock()
	resumed := g.resumed
	g.mu.Unlock()
	if resumed == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-resumed:
		return nil
	}
}

// afterForward is the pipeline hook.
func (g *PauseGate) afterForward(_ context.Context, result domain.Result) {
	log.Printf("paused after action %d; press enter to resume", result.ActionID)
	g.Pause()
}

func (g *PauseGate) awaitLine() {
	_, err := g.input.ReadString('\n')
	if err != nil && err != io.EOF {
		log.Printf("read pause input: %v", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reading = false
	if g.resumed != nil {
		close(g.resumed)
		g.resumed = nil
	}
}
