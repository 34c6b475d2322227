// Package action is the boundary between the engine and its execution backends.
// A step only ever talks to a Session; which backend answers is decided by the step kind.
package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/models"
)

// Invocation is a fully resolved step handed to a backend.
type Invocation struct {
	Step    models.StepDefinition
	BaseURL string        // Base for relative request URLs, API steps only
	Timeout time.Duration // Applied when the step declares none
}

// Result is the backend-neutral outcome of one action. Data is the root that extract and
// validate path queries run against.
type Result struct {
	Request  *models.RequestRecord
	Response *models.ResponseRecord
	UI       *models.UIRecord
	Data     any
	// Screenshot holds PNG bytes when the action captured one; the runner stores it as an
	// artifact and writes the URL onto the UI record.
	Screenshot []byte
}

// Session is one live connection to a backend, owned by a single case.
type Session interface {
	// Do executes the step's payload.
	Do(ctx context.Context, inv Invocation) (*Result, error)

	// Query runs a read-only element action (get_text, get_value, get_cookies...) used by
	// UI extraction and UI validation.
	Query(ctx context.Context, action string, loc models.Locator, arg any) (any, error)

	// Screenshot captures the current screen as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close releases the backend session.
	Close(ctx context.Context) error
}

// Backend opens sessions of one kind.
type Backend interface {
	NewSession(ctx context.Context) (Session, error)
}

// Dispatcher maps step kinds onto backends. Register is for setup only.
type Dispatcher struct {
	mu       sync.RWMutex
	backends map[models.StepKind]Backend
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{backends: make(map[models.StepKind]Backend)}
}

// Register binds a backend to a step kind, replacing any previous one.
func (d *Dispatcher) Register(kind models.StepKind, b Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends[kind] = b
}

func (d *Dispatcher) backend(kind models.StepKind) (Backend, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.backends[kind]
	return b, ok
}

// Bind returns a per-case binding. Sessions are opened lazily, at most one per kind.
func (d *Dispatcher) Bind() *Binding {
	return &Binding{d: d, sessions: make(map[models.StepKind]Session)}
}

// Binding holds the sessions of one case.
type Binding struct {
	d        *Dispatcher
	mu       sync.Mutex
	sessions map[models.StepKind]Session
}

// Session returns the case's session for kind, opening it on first use.
func (b *Binding) Session(ctx context.Context, kind models.StepKind) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[kind]; ok {
		return s, nil
	}
	backend, ok := b.d.backend(kind)
	if !ok {
		return nil, engineerr.Params("no backend registered for step kind %q", kind)
	}
	s, err := backend.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s session: %w", kind, err)
	}
	b.sessions[kind] = s
	return s, nil
}

// Active returns the already-open session for kind, if any.
func (b *Binding) Active(kind models.StepKind) (Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[kind]
	return s, ok
}

// Do dispatches inv to the backend of its step kind.
func (b *Binding) Do(ctx context.Context, inv Invocation) (*Result, error) {
	s, err := b.Session(ctx, inv.Step.EffectiveKind())
	if err != nil {
		return nil, err
	}
	return s.Do(ctx, inv)
}

// Close closes every open session.
func (b *Binding) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for kind, s := range b.sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s session: %w", kind, err))
		}
		delete(b.sessions, kind)
	}
	return errors.Join(errs...)
}
