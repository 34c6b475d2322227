// Package scope holds the layered variable maps one case resolves expressions against.
package scope

import (
	"maps"
	"sync"

	"github.com/husmancristian/geaman-engine/pkg/expression"
)

// Scope is a name → value map with an optional read-only parent. Writes always land in
// the scope itself, so a child never mutates its parent.
type Scope struct {
	mu     sync.RWMutex
	vars   map[string]any
	parent *Scope
}

var _ expression.Lookup = (*Scope)(nil)

// New returns an empty root scope.
func New() *Scope {
	return &Scope{vars: make(map[string]any)}
}

// FromMap returns a root scope holding a copy of vars.
func FromMap(vars map[string]any) *Scope {
	s := New()
	maps.Copy(s.vars, vars)
	return s
}

// Child returns a scope layered on top of s.
func (s *Scope) Child() *Scope {
	return &Scope{vars: make(map[string]any), parent: s}
}

// Get looks name up, nearest layer first.
func (s *Scope) Get(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.vars[name]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Set writes name into this layer.
func (s *Scope) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

// SetAll writes every entry of vars into this layer.
func (s *Scope) SetAll(vars map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.vars, vars)
}

// Snapshot flattens all layers into a new map.
func (s *Scope) Snapshot() map[string]any {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		maps.Copy(out, chain[i].vars)
		chain[i].mu.RUnlock()
	}
	return out
}
