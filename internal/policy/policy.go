package policy

import "github.com/netrunner/regfeed/internal/ir"

// Decision is the outcome of evaluating an incoming entry against the
// currently registered entry for the same name.
type Decision int

const (
	// DecisionDrop means the incoming entry is stale and has no effect.
	DecisionDrop Decision = iota
	// DecisionWrite means the incoming entry replaces the current one.
	DecisionWrite
	// DecisionRemove means the incoming tombstone removes the current entry.
	DecisionRemove
	// DecisionRetain means the incoming tombstone names an absent entry and
	// is kept so an older write arriving later cannot resurrect the name.
	// Only DecideRetaining produces it.
	DecisionRetain
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	switch d {
	case DecisionDrop:
		return "drop"
	case DecisionWrite:
		return "write"
	case DecisionRemove:
		return "remove"
	case DecisionRetain:
		return "retain"
	default:
		return "unknown"
	}
}

// Mutates reports whether the decision changes the store.
func (d Decision) Mutates() bool {
	return d != DecisionDrop
}

// IsNewer reports whether incoming should be written as the registered
// entry. current is nil when nothing is registered for the name.
func IsNewer(incoming ir.Entry, current *ir.Entry) bool {
	if incoming.Tombstone {
		return false
	}
	return current == nil || incoming.Version().After(current.Version())
}

// IsRemovable reports whether incoming is a tombstone that dominates the
// registered entry. A tombstone with an equal version is dropped.
func IsRemovable(incoming ir.Entry, current *ir.Entry) bool {
	if !incoming.Tombstone || current == nil {
		return false
	}
	return incoming.Version().After(current.Version())
}

// Decide evaluates IsNewer then IsRemovable. The two are mutually
// exclusive, so the evaluation order never changes the outcome.
func Decide(incoming ir.Entry, current *ir.Entry) Decision {
	switch {
	case IsNewer(incoming, current):
		return DecisionWrite
	case IsRemovable(incoming, current):
		return DecisionRemove
	default:
		return DecisionDrop
	}
}

// DecideRetaining is Decide for stores that keep tombstones instead of
// deleting names. With every tombstone retained, the stored entry for a
// name is always the maximum version seen, whatever the arrival order.
func DecideRetaining(incoming ir.Entry, current *ir.Entry) Decision {
	d := Decide(incoming, current)
	if d == DecisionDrop && incoming.Tombstone && current == nil {
		return DecisionRetain
	}
	return d
}

// Reduce folds entries through the policy the way a retaining store would
// and returns the surviving entry. It is the reference result that any
// interleaving of the same entries must converge to.
func Reduce(entries []ir.Entry) (ir.Entry, bool) {
	var current *ir.Entry
	for i := range entries {
		if DecideRetaining(entries[i], current).Mutates() {
			e := entries[i]
			current = &e
		}
	}
	if current == nil {
		return ir.Entry{}, false
	}
	return *current, true
}
