package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/policy"
)

// MemStore is an in-memory registry guarded by a RWMutex.
// Apply holds the write lock across the policy check and the mutation.
type MemStore struct {
	mu sync.RWMutex
	m  map[string]ir.Entry
}

// NewMem creates an empty in-memory registry.
func NewMem() *MemStore {
	return &MemStore{m: make(map[string]ir.Entry)}
}

// Get implements Registry.
func (s *MemStore) Get(_ context.Context, name string) (ir.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[name]
	return e, ok, nil
}

// Put implements Registry.
func (s *MemStore) Put(_ context.Context, name string, e ir.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[name] = e
	return nil
}

// Delete implements Registry.
func (s *MemStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, name)
	return nil
}

// Apply implements Conditional.
func (s *MemStore) Apply(_ context.Context, e ir.Entry, prune bool) (policy.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *ir.Entry
	if cur, ok := s.m[e.Name]; ok {
		current = &cur
	}

	d := decide(e, current, prune)
	switch d {
	case policy.DecisionWrite, policy.DecisionRetain:
		s.m[e.Name] = e
	case policy.DecisionRemove:
		if prune {
			delete(s.m, e.Name)
		} else {
			s.m[e.Name] = e
		}
	}
	return d, nil
}

// List implements Lister.
func (s *MemStore) List(_ context.Context, opts ListOptions) ([]ir.Entry, error) {
	s.mu.RLock()
	all := make([]ir.Entry, 0, len(s.m))
	for _, e := range s.m {
		all = append(all, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b ir.Entry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return filterEntries(all, opts), nil
}

// Snapshot returns a copy of every stored entry keyed by name.
func (s *MemStore) Snapshot() map[string]ir.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ir.Entry, len(s.m))
	for k, e := range s.m {
		out[k] = e
	}
	return out
}

var (
	_ Registry    = (*MemStore)(nil)
	_ Conditional = (*MemStore)(nil)
	_ Lister      = (*MemStore)(nil)
)
