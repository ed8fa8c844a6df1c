package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/policy"
)

// ErrNotFound is returned by Visible when a name is absent or removed.
var ErrNotFound = errors.New("name not registered")

// Registry is the key-value store the engine converges into.
// Get reports ok=false when nothing is stored for name. Retained
// tombstones are returned like any other entry.
type Registry interface {
	Get(ctx context.Context, name string) (ir.Entry, bool, error)
	Put(ctx context.Context, name string, e ir.Entry) error
	Delete(ctx context.Context, name string) error
}

// Conditional is implemented by registries that can run the policy check
// and the resulting mutation as one atomic step.
//
// With prune set, removals delete the name. Otherwise tombstones are kept
// and absent names record the tombstone.
type Conditional interface {
	Apply(ctx context.Context, e ir.Entry, prune bool) (policy.Decision, error)
}

// ListOptions filters List results.
type ListOptions struct {
	Prefix            string
	IncludeTombstones bool
	// Limit caps the number of entries returned. Zero means no limit.
	Limit int
}

// Lister is implemented by registries that can enumerate names.
// Results are ordered by name.
type Lister interface {
	List(ctx context.Context, opts ListOptions) ([]ir.Entry, error)
}

// Apply runs the policy for e against r. Conditional registries do it
// atomically; others fall back to get, decide, then put or delete, which
// can race with concurrent entries for the same name.
func Apply(ctx context.Context, r Registry, e ir.Entry, prune bool) (policy.Decision, error) {
	if c, ok := r.(Conditional); ok {
		return c.Apply(ctx, e, prune)
	}

	cur, ok, err := r.Get(ctx, e.Name)
	if err != nil {
		return policy.DecisionDrop, fmt.Errorf("apply %s: %w", e.Name, err)
	}
	var current *ir.Entry
	if ok {
		current = &cur
	}

	d := decide(e, current, prune)
	if err := mutate(ctx, r, e, d, prune); err != nil {
		return policy.DecisionDrop, fmt.Errorf("apply %s: %w", e.Name, err)
	}
	return d, nil
}

func decide(e ir.Entry, current *ir.Entry, prune bool) policy.Decision {
	if prune {
		return policy.Decide(e, current)
	}
	return policy.DecideRetaining(e, current)
}

func mutate(ctx context.Context, r Registry, e ir.Entry, d policy.Decision, prune bool) error {
	switch d {
	case policy.DecisionWrite, policy.DecisionRetain:
		return r.Put(ctx, e.Name, e)
	case policy.DecisionRemove:
		if prune {
			return r.Delete(ctx, e.Name)
		}
		return r.Put(ctx, e.Name, e)
	default:
		return nil
	}
}

// Visible returns the live entry for name, hiding retained tombstones.
func Visible(ctx context.Context, r Registry, name string) (ir.Entry, error) {
	e, ok, err := r.Get(ctx, name)
	if err != nil {
		return ir.Entry{}, err
	}
	if !ok || e.Tombstone {
		return ir.Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// filterEntries applies ListOptions to entries already sorted by name.
func filterEntries(entries []ir.Entry, opts ListOptions) []ir.Entry {
	out := make([]ir.Entry, 0, len(entries))
	for _, e := range entries {
		if opts.Prefix != "" && !strings.HasPrefix(e.Name, opts.Prefix) {
			continue
		}
		if e.Tombstone && !opts.IncludeTombstones {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}
