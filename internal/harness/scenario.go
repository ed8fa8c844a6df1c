package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/netrunner/regfeed/internal/ir"
)

// Scenario defines a convergence scenario.
// It declares the feeds an engine starts with, a sequence of steps that
// deliver remote entries, author entries or change the feed set, and the
// registry state expected once every step has settled.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Options Options `yaml:"options,omitempty"`

	// Feeds are tracked from the start.
	Feeds []FeedSpec `yaml:"feeds"`

	Steps []Step `yaml:"steps,omitempty"`

	Expect Expect `yaml:"expect"`
}

// Options map onto engine options.
type Options struct {
	Throws bool `yaml:"throws,omitempty"`
	Prune  bool `yaml:"prune,omitempty"`
}

// FeedSpec declares an in-memory feed.
type FeedSpec struct {
	// ID of the feed. Empty IDs are assigned feed-1, feed-2, ...
	ID       string `yaml:"id,omitempty"`
	Writable bool   `yaml:"writable,omitempty"`

	// FailReady makes every probe of the feed fail with this message.
	FailReady string `yaml:"fail_ready,omitempty"`

	// Entries are present before the engine starts. They are not
	// validated, so scenarios can seed malformed entries.
	Entries []EntrySpec `yaml:"entries,omitempty"`
}

// EntrySpec is an entry as written in scenario files.
type EntrySpec struct {
	Name      string         `yaml:"name"`
	Seq       int64          `yaml:"seq,omitempty"`
	Author    string         `yaml:"author,omitempty"`
	Tombstone bool           `yaml:"tombstone,omitempty"`
	Value     map[string]any `yaml:"value,omitempty"`
}

// Entry converts s into an ir.Entry.
func (s EntrySpec) Entry() (ir.Entry, error) {
	value, err := ir.ObjectFromAny(s.Value)
	if err != nil {
		return ir.Entry{}, fmt.Errorf("entry %q: %w", s.Name, err)
	}
	return ir.Entry{
		Name:      s.Name,
		Value:     value,
		Seq:       s.Seq,
		Author:    ir.FeedID(s.Author),
		Tombstone: s.Tombstone,
	}, nil
}

// Step is one scenario action. Exactly one action field is set.
type Step struct {
	// Deliver appends an entry to a feed as if replicated from its author.
	Deliver *DeliverStep `yaml:"deliver,omitempty"`

	// Create, Update and Remove author an entry through the engine.
	// Only the name (and value for create/update) is used.
	Create *EntrySpec `yaml:"create,omitempty"`
	Update *EntrySpec `yaml:"update,omitempty"`
	Remove *EntrySpec `yaml:"remove,omitempty"`

	AddFeed    *FeedSpec `yaml:"add_feed,omitempty"`
	RemoveFeed string    `yaml:"remove_feed,omitempty"`

	// CloseFeed closes a feed, ending its stream and failing appends.
	CloseFeed string `yaml:"close_feed,omitempty"`

	Ready bool `yaml:"ready,omitempty"`

	// ExpectError is the error kind the step must fail with.
	// See the Err* constants.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operation names.
const (
	OpDeliver    = "deliver"
	OpCreate     = "create"
	OpUpdate     = "update"
	OpRemove     = "remove"
	OpAddFeed    = "add_feed"
	OpRemoveFeed = "remove_feed"
	OpCloseFeed  = "close_feed"
	OpReady      = "ready"
)

// Op returns the name of the step's action, or "" unless exactly one
// action is set.
func (s Step) Op() string {
	ops := s.ops()
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

func (s Step) ops() []string {
	var ops []string
	if s.Deliver != nil {
		ops = append(ops, OpDeliver)
	}
	if s.Create != nil {
		ops = append(ops, OpCreate)
	}
	if s.Update != nil {
		ops = append(ops, OpUpdate)
	}
	if s.Remove != nil {
		ops = append(ops, OpRemove)
	}
	if s.AddFeed != nil {
		ops = append(ops, OpAddFeed)
	}
	if s.RemoveFeed != "" {
		ops = append(ops, OpRemoveFeed)
	}
	if s.CloseFeed != "" {
		ops = append(ops, OpCloseFeed)
	}
	if s.Ready {
		ops = append(ops, OpReady)
	}
	return ops
}

// DeliverStep targets a feed with an entry.
type DeliverStep struct {
	Feed      string `yaml:"feed"`
	EntrySpec `yaml:",inline"`
}

// Expect describes the settled state.
type Expect struct {
	// Writer is the expected writer feed ID. Nil skips the check; an
	// empty string expects no writer.
	Writer *string `yaml:"writer,omitempty"`

	// Entries are checked against the stored entry of the same name.
	// Seq and author are compared when set, tombstone always, value when
	// present.
	Entries []EntrySpec `yaml:"entries,omitempty"`

	// Absent names must have nothing stored, not even a tombstone.
	Absent []string `yaml:"absent,omitempty"`

	// Count is the number of stored entries, tombstones included.
	Count *int `yaml:"count,omitempty"`

	// Stats are compared by counter name: applied, removed, retained,
	// dropped, errors.
	Stats map[string]int64 `yaml:"stats,omitempty"`
}

// Error kinds reported in StepResult.Error.
const (
	ErrKindNoWriter = "no_writable_feed"
	ErrKindProbe    = "probe_failed"
	ErrKindAppend   = "append_failed"
	ErrKindInvalid  = "invalid_entry"
	ErrKindClosed   = "feed_closed"
	ErrKindOther    = "error"
)

var errorKinds = map[string]bool{
	ErrKindNoWriter: true,
	ErrKindProbe:    true,
	ErrKindAppend:   true,
	ErrKindInvalid:  true,
	ErrKindClosed:   true,
	ErrKindOther:    true,
}

var statNames = map[string]bool{
	"applied":  true,
	"removed":  true,
	"retained": true,
	"dropped":  true,
	"errors":   true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "entry:" vs "entries:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that
// every step refers to a declared feed.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	known := make(map[string]bool)
	declare := func(where string, f FeedSpec) error {
		if f.ID == "" {
			return nil
		}
		if known[f.ID] {
			return fmt.Errorf("%s: duplicate feed id %q", where, f.ID)
		}
		known[f.ID] = true
		return nil
	}

	for i, f := range s.Feeds {
		if err := declare(fmt.Sprintf("feeds[%d]", i), f); err != nil {
			return err
		}
		if err := validateEntries(fmt.Sprintf("feeds[%d]", i), f.Entries); err != nil {
			return err
		}
	}

	for i, step := range s.Steps {
		where := fmt.Sprintf("steps[%d]", i)
		ops := step.ops()
		if len(ops) != 1 {
			return fmt.Errorf("%s: exactly one action is required, got %v", where, ops)
		}
		if step.ExpectError != "" && !errorKinds[step.ExpectError] {
			return fmt.Errorf("%s: unknown error kind %q", where, step.ExpectError)
		}

		switch ops[0] {
		case OpDeliver:
			if !known[step.Deliver.Feed] {
				return fmt.Errorf("%s: unknown feed %q", where, step.Deliver.Feed)
			}
			if err := validateEntries(where, []EntrySpec{step.Deliver.EntrySpec}); err != nil {
				return err
			}
		case OpCreate, OpUpdate:
			spec := step.Create
			if spec == nil {
				spec = step.Update
			}
			if _, err := ir.ObjectFromAny(spec.Value); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
		case OpAddFeed:
			if step.AddFeed.ID == "" {
				return fmt.Errorf("%s: add_feed needs an id", where)
			}
			// A known id re-adds the existing feed.
			if !known[step.AddFeed.ID] {
				if err := declare(where, *step.AddFeed); err != nil {
					return err
				}
				if err := validateEntries(where, step.AddFeed.Entries); err != nil {
					return err
				}
			}
		case OpRemoveFeed:
			if !known[step.RemoveFeed] {
				return fmt.Errorf("%s: unknown feed %q", where, step.RemoveFeed)
			}
		case OpCloseFeed:
			if !known[step.CloseFeed] {
				return fmt.Errorf("%s: unknown feed %q", where, step.CloseFeed)
			}
		}
	}

	for i, e := range s.Expect.Entries {
		if e.Name == "" {
			return fmt.Errorf("expect.entries[%d]: name is required", i)
		}
	}
	for name := range s.Expect.Stats {
		if !statNames[name] {
			return fmt.Errorf("expect.stats: unknown counter %q", name)
		}
	}
	return nil
}

func validateEntries(where string, entries []EntrySpec) error {
	for i, e := range entries {
		if _, err := ir.ObjectFromAny(e.Value); err != nil {
			return fmt.Errorf("%s.entries[%d]: %w", where, i, err)
		}
	}
	return nil
}
