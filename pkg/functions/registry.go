// Package functions is the name → callable registry used by `${func(...)}` expressions.
// Lookups go through an explicit map built from the builtin catalogue plus user scripts;
// nothing is resolved by reflection.
package functions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/expression"
)

// Func is a registered function. Args are already resolved.
type Func func(call *Call, args []any, kwargs map[string]any) (any, error)

// Call is the invocation context of one function execution.
type Call struct {
	Ctx context.Context
	Log *LogBuffer
}

// Logf appends a line to the invocation's log buffer.
func (c *Call) Logf(format string, args ...any) {
	if c.Log != nil {
		c.Log.Printf(format, args...)
	}
}

// Registry maps names to functions. Register is for setup; once a run starts the
// registry is only read, and every case receives a Clone.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry holding the builtin catalogue.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func, len(builtins))}
	for name, fn := range builtins {
		r.funcs[name] = fn
	}
	return r
}

// Register adds or replaces a function.
func (r *Registry) Register(name string, fn Func) error {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return fmt.Errorf("invalid function registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
	return nil
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names lists registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent snapshot.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &Registry{funcs: make(map[string]Func, len(r.funcs))}
	for name, fn := range r.funcs {
		out.funcs[name] = fn
	}
	return out
}

// Invoke calls a function by name.
func (r *Registry) Invoke(call *Call, name string, args []any, kwargs map[string]any) (any, error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, engineerr.FunctionNotFound(name)
	}
	out, err := fn(call, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", name, err)
	}
	return out, nil
}

// Caller binds the registry to one invocation context for the expression evaluator.
func (r *Registry) Caller(ctx context.Context, log *LogBuffer) expression.Caller {
	call := &Call{Ctx: ctx, Log: log}
	return expression.CallerFunc(func(name string, args []any, kwargs map[string]any) (any, error) {
		return r.Invoke(call, name, args, kwargs)
	})
}
