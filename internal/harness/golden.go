package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/netrunner/regfeed/internal/ir"
)

// Snapshot captures the settled outcome of a scenario.
// Hashes and counters are left out: counters depend on how consumers
// interleave, the settled state does not.
type Snapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Writer       ir.FeedID    `json:"writer,omitempty"`
	Steps        []StepResult `json:"steps"`
	State        []EntryState `json:"state"`
}

// NewSnapshot builds the snapshot of result.
func NewSnapshot(scenarioName string, result *Result) Snapshot {
	return Snapshot{
		ScenarioName: scenarioName,
		Writer:       result.Writer,
		Steps:        result.Steps,
		State:        result.State,
	}
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *Snapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, step := range s.Steps {
		m := map[string]any{"op": step.Op}
		if step.Name != "" {
			m["name"] = step.Name
		}
		if step.Entry != nil {
			m["entry"] = entryMap(*step.Entry)
		}
		if step.Error != "" {
			m["error"] = step.Error
		}
		steps[i] = m
	}

	state := make([]any, len(s.State))
	for i, e := range s.State {
		state[i] = entryMap(e)
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
		"state":         state,
	}
	if s.Writer != "" {
		result["writer"] = string(s.Writer)
	}
	return result
}

func entryMap(e EntryState) map[string]any {
	m := map[string]any{
		"name":      e.Name,
		"seq":       e.Seq,
		"author":    string(e.Author),
		"tombstone": e.Tombstone,
	}
	if len(e.Value) > 0 {
		m["value"] = e.Value
	}
	return m
}

// MarshalCanonical renders the snapshot as canonical JSON followed by a
// newline.
func (s *Snapshot) MarshalCanonical() ([]byte, error) {
	data, err := ir.MarshalCanonical(s.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass; a snapshot mismatch fails
// t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the snapshot of result against the golden file
// named scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := NewSnapshot(scenarioName, result)
	data, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
