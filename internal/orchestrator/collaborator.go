package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Collaborator is a downstream processing component polled by the insight,
// integration, and synthesis workers. Implementations must be safe for
// concurrent use.
type Collaborator interface {
	// Initialize prepares the collaborator for polling. Called once at
	// orchestrator start.
	Initialize(ctx context.Context) error
	// GetStatus returns the collaborator's current status document.
	GetStatus(ctx context.Context) (map[string]any, error)
	// Reset returns the collaborator to a clean baseline. Called during
	// system realignment.
	Reset(ctx context.Context) error
	// Restart tears down and re-initializes the collaborator. Called as a
	// recovery action.
	Restart(ctx context.Context) error
}

// StubCollaborator is an in-process Collaborator with fixed status
// content. It stands in for external processing components that attach
// over the API in larger deployments.
type StubCollaborator struct {
	name string

	mu          sync.Mutex
	initialized bool
	resets      int64
	restarts    int64
	polls       int64
}

// NewStubCollaborator returns a stub reporting under the given name.
func NewStubCollaborator(name string) *StubCollaborator {
	return &StubCollaborator{name: name}
}

// Initialize marks the stub ready.
func (s *StubCollaborator) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

// GetStatus reports readiness and lifetime counters.
func (s *StubCollaborator) GetStatus(_ context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, fmt.Errorf("collaborator %s not initialized", s.name)
	}
	s.polls++
	return map[string]any{
		"name":        s.name,
		"initialized": true,
		"polls":       s.polls,
		"resets":      s.resets,
		"restarts":    s.restarts,
	}, nil
}

// Reset clears transient state.
func (s *StubCollaborator) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

// Restart re-initializes the stub.
func (s *StubCollaborator) Restart(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	s.restarts++
	return nil
}

// pollCollaborator fetches a collaborator status under its own timeout so
// a hung collaborator cannot stall the polling worker's whole cycle.
func pollCollaborator(ctx context.Context, c Collaborator, timeout time.Duration) (map[string]any, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.GetStatus(cctx)
}
