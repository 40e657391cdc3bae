// Package interrupt tracks in-flight pipeline runs so a stop request can
// cancel them cooperatively.
//
// A run is armed with a scope (normally the browser session id) and an
// optional request id. Stop cancels only runs in the given scope, so a stop
// from one session can never reach a request owned by another.
package interrupt

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle position of a Token.
type State int

const (
	Armed State = iota
	Stopped
	Completed
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// Token is the cancellation handle for one pipeline run.
type Token struct {
	id        string
	scope     string
	requestID string
	cancel    context.CancelFunc
	registry  *Registry

	// guarded by registry.mu
	state State
}

// ID returns the registry-assigned token id.
func (t *Token) ID() string { return t.id }

// RequestID returns the caller-supplied request id, or the token id when none was given.
func (t *Token) RequestID() string {
	if t.requestID != "" {
		return t.requestID
	}
	return t.id
}

// State reports the current lifecycle state.
func (t *Token) State() State {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	return t.state
}

// Stopped reports whether a stop reached this token while it was armed.
func (t *Token) Stopped() bool {
	return t.State() == Stopped
}

// Complete marks the run finished and unregisters it. Stops arriving after
// Complete are ignored. Safe to call more than once.
func (t *Token) Complete() {
	r := t.registry
	r.mu.Lock()
	if t.state == Armed {
		t.state = Completed
	}
	r.remove(t)
	r.mu.Unlock()
	t.cancel()
}

// Registry holds armed tokens grouped by scope.
type Registry struct {
	mu     sync.Mutex
	scopes map[string]map[string]*Token
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string]map[string]*Token)}
}

// Arm registers a new run under scope and returns a context that is
// cancelled when the run is stopped or completed.
func (r *Registry) Arm(ctx context.Context, scope, requestID string) (context.Context, *Token) {
	runCtx, cancel := context.WithCancel(ctx)
	t := &Token{
		id:        uuid.New().String(),
		scope:     scope,
		requestID: requestID,
		cancel:    cancel,
		registry:  r,
		state:     Armed,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	runs, ok := r.scopes[scope]
	if !ok {
		runs = make(map[string]*Token)
		r.scopes[scope] = runs
	}
	runs[t.id] = t
	return runCtx, t
}

// Stop cancels armed runs in scope. With an empty requestID every run in the
// scope is stopped; otherwise only runs whose RequestID matches. It returns
// the number of runs stopped.
func (r *Registry) Stop(scope, requestID string) int {
	r.mu.Lock()
	var stopped []*Token
	for _, t := range r.scopes[scope] {
		if t.state != Armed {
			continue
		}
		if requestID != "" && t.RequestID() != requestID {
			continue
		}
		t.state = Stopped
		stopped = append(stopped, t)
	}
	r.mu.Unlock()

	for _, t := range stopped {
		t.cancel()
	}
	return len(stopped)
}

// Active returns the number of armed runs in scope.
func (r *Registry) Active(scope string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.scopes[scope] {
		if t.state == Armed {
			n++
		}
	}
	return n
}

// remove must be called with r.mu held.
func (r *Registry) remove(t *Token) {
	runs, ok := r.scopes[t.scope]
	if !ok {
		return
	}
	delete(runs, t.id)
	if len(runs) == 0 {
		delete(r.scopes, t.scope)
	}
}
