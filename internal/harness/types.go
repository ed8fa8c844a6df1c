package harness

import (
	"github.com/netrunner/regfeed/internal/engine"
	"github.com/netrunner/regfeed/internal/ir"
)

// EntryState is a stored or authored entry in results and snapshots.
type EntryState struct {
	Name      string      `json:"name"`
	Seq       int64       `json:"seq"`
	Author    ir.FeedID   `json:"author"`
	Tombstone bool        `json:"tombstone"`
	Value     ir.IRObject `json:"value,omitempty"`
}

func entryState(e ir.Entry) EntryState {
	return EntryState{
		Name:      e.Name,
		Seq:       e.Seq,
		Author:    e.Author,
		Tombstone: e.Tombstone,
		Value:     e.Value,
	}
}

// StepResult records the outcome of one step.
type StepResult struct {
	Op   string `json:"op"`
	Name string `json:"name,omitempty"` // entry name or feed id

	// Entry is the entry an authoring step appended.
	Entry *EntryState `json:"entry,omitempty"`

	// Error is the error kind, empty on success.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every step and expectation matched.
	Pass bool `json:"pass"`

	Writer ir.FeedID    `json:"writer,omitempty"`
	Steps  []StepResult `json:"steps"`

	// State is every stored entry, tombstones included, in name order.
	State []EntryState `json:"state"`
	Stats engine.Stats `json:"stats"`

	// Errors contains mismatch messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		State:  []EntryState{},
		Errors: []string{},
	}
}

// AddError adds a mismatch and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Lookup returns the stored entry for name.
func (r *Result) Lookup(name string) (EntryState, bool) {
	for _, e := range r.State {
		if e.Name == name {
			return e, true
		}
	}
	return EntryState{}, false
}

func statsMap(s engine.Stats) map[string]int64 {
	return map[string]int64{
		"applied":  s.Applied,
		"removed":  s.Removed,
		"retained": s.Retained,
		"dropped":  s.Dropped,
		"errors":   s.Errors,
	}
}
