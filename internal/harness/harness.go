package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/netrunner/regfeed/internal/engine"
	"github.com/netrunner/regfeed/internal/feed"
	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/store"
)

// DefaultSettleTimeout bounds how long a step may take to be fully applied.
const DefaultSettleTimeout = 5 * time.Second

// Harness runs one scenario against a live engine over in-memory feeds.
//
// After every step the harness waits until each entry present in a
// tracked feed has been processed by the engine, so expectations are
// checked against a settled registry regardless of how consumers
// interleave.
type Harness struct {
	registry store.Registry
	engine   *engine.Engine
	ids      *feed.SequenceGenerator
	timeout  time.Duration

	feeds   map[ir.FeedID]*feed.MemFeed
	tracked map[ir.FeedID]bool
	closed  map[ir.FeedID]bool

	// retired counts entries of feeds that are no longer consumed.
	retired int64
}

// Option configures Run.
type Option func(*Harness)

// WithRegistry runs the scenario against r instead of a fresh memory
// registry. r must implement store.Lister.
func WithRegistry(r store.Registry) Option {
	return func(h *Harness) {
		h.registry = r
	}
}

// WithSettleTimeout overrides DefaultSettleTimeout.
func WithSettleTimeout(d time.Duration) Option {
	return func(h *Harness) {
		h.timeout = d
	}
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Create the declared feeds and a live engine tracking them
// 2. Execute each step and wait for the engine to settle
// 3. Collect the registry state and counters
// 4. Check the scenario's expectations
//
// An error is returned only when the scenario cannot be executed at all;
// mismatches are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		ids:     feed.NewSequenceGenerator("feed"),
		timeout: DefaultSettleTimeout,
		feeds:   make(map[ir.FeedID]*feed.MemFeed),
		tracked: make(map[ir.FeedID]bool),
		closed:  make(map[ir.FeedID]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registry == nil {
		h.registry = store.NewMem()
	}
	lister, ok := h.registry.(store.Lister)
	if !ok {
		return nil, fmt.Errorf("registry %T cannot list entries", h.registry)
	}

	initial := make([]feed.Feed, 0, len(scenario.Feeds))
	for i, spec := range scenario.Feeds {
		f, err := h.newFeed(spec)
		if err != nil {
			return nil, fmt.Errorf("feeds[%d]: %w", i, err)
		}
		h.tracked[f.ID()] = true
		initial = append(initial, f)
	}

	h.engine = engine.New(initial, h.registry,
		engine.WithLive(true),
		engine.WithThrows(scenario.Options.Throws),
		engine.WithPrune(scenario.Options.Prune),
	)
	defer h.engine.Close()
	defer h.closeFeeds()

	result := NewResult()
	if err := h.settle(ctx); err != nil {
		return nil, fmt.Errorf("initial feeds: %w", err)
	}

	for i, step := range scenario.Steps {
		sr, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if sr.Error != step.ExpectError {
			switch {
			case step.ExpectError == "":
				result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error %s", i, sr.Op, sr.Error))
			case sr.Error == "":
				result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got success", i, sr.Op, step.ExpectError))
			default:
				result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got %s", i, sr.Op, step.ExpectError, sr.Error))
			}
		}
		result.Steps = append(result.Steps, sr)

		if err := h.settle(ctx); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	entries, err := lister.List(ctx, store.ListOptions{IncludeTombstones: true})
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	for _, e := range entries {
		result.State = append(result.State, entryState(e))
	}
	sort.Slice(result.State, func(i, j int) bool {
		return result.State[i].Name < result.State[j].Name
	})
	if w := h.engine.Writer(); w != nil {
		result.Writer = w.FeedID()
	}
	result.Stats = h.engine.Stats()

	for _, msg := range CheckExpectations(result, scenario.Expect) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) newFeed(spec FeedSpec) (*feed.MemFeed, error) {
	id := ir.FeedID(spec.ID)
	if id == "" {
		id = h.ids.Generate()
	}

	seed := make([]ir.Entry, 0, len(spec.Entries))
	for _, es := range spec.Entries {
		e, err := es.Entry()
		if err != nil {
			return nil, err
		}
		seed = append(seed, e)
	}

	opts := []feed.MemOption{feed.WithID(id), feed.WithEntries(seed...)}
	if spec.Writable {
		opts = append(opts, feed.Writable())
	}
	if spec.FailReady != "" {
		msg := spec.FailReady
		opts = append(opts, feed.WithReadyFunc(func(context.Context) error {
			return errors.New(msg)
		}))
	}

	f := feed.NewMemFeed(opts...)
	h.feeds[id] = f
	return f, nil
}

// execute runs one step. Step failures are reported in the StepResult;
// the returned error means the harness itself could not proceed.
func (h *Harness) execute(ctx context.Context, step Step) (StepResult, error) {
	sr := StepResult{Op: step.Op()}

	switch sr.Op {
	case OpDeliver:
		sr.Name = step.Deliver.Name
		f, ok := h.feeds[ir.FeedID(step.Deliver.Feed)]
		if !ok {
			return sr, fmt.Errorf("unknown feed %q", step.Deliver.Feed)
		}
		e, err := step.Deliver.Entry()
		if err != nil {
			return sr, err
		}
		sr.Error = errorKind(f.Deliver(e))

	case OpCreate, OpUpdate, OpRemove:
		var (
			spec   *EntrySpec
			author func(context.Context, ir.Entry) (ir.Entry, error)
		)
		switch sr.Op {
		case OpCreate:
			spec, author = step.Create, h.engine.Create
		case OpUpdate:
			spec, author = step.Update, h.engine.Update
		default:
			spec, author = step.Remove, h.engine.Remove
		}
		sr.Name = spec.Name
		e, err := spec.Entry()
		if err != nil {
			return sr, err
		}
		written, err := author(ctx, e)
		if err != nil {
			sr.Error = errorKind(err)
			break
		}
		state := entryState(written)
		sr.Entry = &state

	case OpAddFeed:
		id := ir.FeedID(step.AddFeed.ID)
		sr.Name = string(id)
		f, ok := h.feeds[id]
		if !ok {
			var err error
			if f, err = h.newFeed(*step.AddFeed); err != nil {
				return sr, err
			}
		}
		if h.closed[id] {
			sr.Error = ErrKindClosed
			break
		}
		h.tracked[id] = true
		h.engine.AddFeed(f)

	case OpRemoveFeed, OpCloseFeed:
		id := ir.FeedID(step.RemoveFeed)
		if sr.Op == OpCloseFeed {
			id = ir.FeedID(step.CloseFeed)
		}
		sr.Name = string(id)
		f, ok := h.feeds[id]
		if !ok {
			return sr, fmt.Errorf("unknown feed %q", id)
		}
		// Let the feed's consumer finish before it stops counting.
		if err := h.settle(ctx); err != nil {
			return sr, err
		}
		if h.tracked[id] {
			h.tracked[id] = false
			h.retired += int64(f.Len())
		}
		if sr.Op == OpRemoveFeed {
			h.engine.RemoveFeed(f)
		} else {
			h.closed[id] = true
			_ = f.Close()
		}

	case OpReady:
		sr.Error = errorKind(h.engine.Ready(ctx))

	default:
		return sr, fmt.Errorf("step has no single action")
	}
	return sr, nil
}

// settle waits until the engine has processed every entry of every
// tracked feed.
func (h *Harness) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		want := h.expected()
		got := processed(h.engine.Stats())
		if got >= want {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("settle: %d of %d entries processed: %w", got, want, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (h *Harness) expected() int64 {
	n := h.retired
	for id, f := range h.feeds {
		if h.tracked[id] {
			n += int64(f.Len())
		}
	}
	return n
}

func processed(s engine.Stats) int64 {
	return s.Applied + s.Removed + s.Retained + s.Dropped + s.Errors
}

func (h *Harness) closeFeeds() {
	for _, f := range h.feeds {
		_ = f.Close()
	}
}

// errorKind classifies err into one of the ErrKind constants.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case engine.IsNoWritableFeed(err):
		return ErrKindNoWriter
	case engine.IsProbeError(err):
		return ErrKindProbe
	case engine.IsAppendError(err):
		return ErrKindAppend
	case errors.Is(err, feed.ErrClosed):
		return ErrKindClosed
	case errors.Is(err, ir.ErrEmptyName),
		errors.Is(err, ir.ErrInvalidSeq),
		errors.Is(err, ir.ErrMissingAuthor),
		errors.Is(err, ir.ErrTombstoneValue):
		return ErrKindInvalid
	default:
		return ErrKindOther
	}
}
