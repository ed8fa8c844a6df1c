package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/netrunner/regfeed/internal/feed"
	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/policy"
	"github.com/netrunner/regfeed/internal/store"
)

// TracerName is the instrumentation scope used when no tracer is configured.
const TracerName = "github.com/netrunner/regfeed/internal/engine"

// Engine merges entries from a dynamic set of feeds into one registry.
//
// Each tracked feed has its own consumer goroutine that applies the feed's
// entries to the store in feed order. Entries from different feeds are
// applied in no particular order; the conflict policy makes the final
// registry state independent of that interleaving.
//
// Thread-safety: every method is safe for concurrent use.
type Engine struct {
	store  store.Registry
	clock  *Clock
	tracer trace.Tracer

	live   bool
	throws bool
	prune  bool

	root   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	feeds  map[ir.FeedID]*tracked
	writer *Writer
	closed bool

	probes singleflight.Group
	stats  counters
}

// tracked is the engine's handle on one feed.
type tracked struct {
	feed   feed.Feed
	cancel context.CancelFunc
	done   chan struct{} // closed when the consumer exits
	probed bool          // guarded by Engine.mu
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithThrows makes Ready fail with a ProbeError when a feed cannot become
// ready. Without it the failure is logged and the feed is skipped.
func WithThrows(throws bool) EngineOption {
	return func(e *Engine) {
		e.throws = throws
	}
}

// WithLive controls whether consumers keep following their feeds after
// the existing entries. Default: true.
func WithLive(live bool) EngineOption {
	return func(e *Engine) {
		e.live = live
	}
}

// WithPrune deletes removed names instead of retaining their tombstones.
//
// Pruned registries forget removals, so a value older than the removal
// that arrives later is accepted again. Retention keeps the final state
// independent of delivery order.
func WithPrune(prune bool) EngineOption {
	return func(e *Engine) {
		e.prune = prune
	}
}

// WithTracer sets the tracer for probe, apply and append spans.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithClock sets the Lamport clock, for resuming from a known seq.
func WithClock(clock *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// New creates an Engine over s and starts consuming feeds immediately.
// Readiness is not awaited; call Ready before authoring.
func New(feeds []feed.Feed, s store.Registry, opts ...EngineOption) *Engine {
	root, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:  s,
		clock:  NewClock(),
		tracer: otel.Tracer(TracerName),
		live:   true,
		root:   root,
		cancel: cancel,
		feeds:  make(map[ir.FeedID]*tracked),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.AddFeeds(feeds)
	return e
}

// Clock returns the engine's Lamport clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// AddFeed starts tracking f and consuming its entries.
// No-op if a feed with the same ID is already tracked or the engine is
// closed. Never blocks on the feed's readiness.
func (e *Engine) AddFeed(f feed.Feed) {
	id := f.ID()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, ok := e.feeds[id]; ok {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(e.root)
	t := &tracked{
		feed:   f,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.feeds[id] = t
	e.mu.Unlock()

	slog.Info("feed added", "feed", id, "live", e.live)
	capitan.Emit(ctx, FeedAdded, KeyFeed.Field(string(id)))

	go e.consume(ctx, t)
}

// AddFeeds calls AddFeed for each feed.
func (e *Engine) AddFeeds(feeds []feed.Feed) {
	for _, f := range feeds {
		e.AddFeed(f)
	}
}

// RemoveFeed stops consuming f and forgets it. It returns once the entry
// being applied, if any, has been stored. Entries already applied stay in
// the registry. If f was the writer the writer slot is cleared; feeds
// probed earlier do not take it over. No-op if f is not tracked.
func (e *Engine) RemoveFeed(f feed.Feed) {
	id := f.ID()

	e.mu.Lock()
	t, ok := e.feeds[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.feeds, id)
	if e.writer != nil && e.writer.FeedID() == id {
		e.writer = nil
		slog.Info("writer cleared", "feed", id)
	}
	e.mu.Unlock()

	t.cancel()
	<-t.done

	slog.Info("feed removed", "feed", id)
	capitan.Emit(e.root, FeedRemoved, KeyFeed.Field(string(id)))
}

// RemoveFeeds calls RemoveFeed for each feed.
func (e *Engine) RemoveFeeds(feeds []feed.Feed) {
	for _, f := range feeds {
		e.RemoveFeed(f)
	}
}

// Feeds returns the IDs of the tracked feeds in sorted order.
func (e *Engine) Feeds() []ir.FeedID {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]ir.FeedID, 0, len(e.feeds))
	for id := range e.feeds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Writer returns the designated writer, or nil if no feed holds the slot.
func (e *Engine) Writer() *Writer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writer
}

// Ready probes every tracked feed that has not been probed yet and waits
// for all probes to finish. The first feed to report ReadWrite becomes
// the writer.
//
// Once every tracked feed has been probed Ready returns immediately.
// Overlapping calls share one probe round.
func (e *Engine) Ready(ctx context.Context) error {
	for {
		if !e.hasUnprobed() {
			return nil
		}

		ch := e.probes.DoChan("ready", func() (any, error) {
			return nil, e.probeRound(ctx)
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				continue // pick up feeds added during the round
			}
			if isContextErr(res.Err) && !IsProbeError(res.Err) && ctx.Err() == nil {
				// The caller that started the round went away.
				continue
			}
			return res.Err
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) hasUnprobed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.feeds {
		if !t.probed {
			return true
		}
	}
	return false
}

func (e *Engine) unprobed() []*tracked {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending := make([]*tracked, 0, len(e.feeds))
	for _, t := range e.feeds {
		if !t.probed {
			pending = append(pending, t)
		}
	}
	return pending
}

// probeRound probes every pending feed concurrently. With throws the first
// probe error is returned after all probes finish.
func (e *Engine) probeRound(ctx context.Context) error {
	var g errgroup.Group
	for _, t := range e.unprobed() {
		g.Go(func() error {
			return e.probe(ctx, t)
		})
	}
	return g.Wait()
}

func (e *Engine) probe(ctx context.Context, t *tracked) error {
	id := t.feed.ID()
	ctx, span := e.tracer.Start(ctx, "regfeed.probe",
		trace.WithAttributes(attribute.String("feed", string(id))),
	)
	defer span.End()

	capability, err := t.feed.Ready(ctx)
	if err != nil && ctx.Err() != nil {
		// Abandoned round; the feed stays unprobed.
		return ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		capitan.Emit(ctx, ProbeFailed,
			KeyFeed.Field(string(id)),
			KeyError.Field(err.Error()),
		)
		if e.throws {
			slog.Error("feed probe failed", "feed", id, "error", err)
			return NewProbeError(id, err)
		}
		slog.Warn("feed probe failed, skipping", "feed", id, "error", err)
		e.markProbed(t, false)
		return nil
	}

	span.SetAttributes(attribute.String("capability", capability.String()))
	slog.Debug("feed ready", "feed", id, "capability", capability)
	if e.markProbed(t, capability.Writable()) {
		slog.Info("writer designated", "feed", id)
		capitan.Emit(ctx, WriterDesignated, KeyFeed.Field(string(id)))
	}
	return nil
}

// markProbed records a finished probe and reports whether t took the
// writer slot. Feeds removed during the probe are ignored.
func (e *Engine) markProbed(t *tracked, writable bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.feeds[t.feed.ID()] != t {
		return false
	}
	t.probed = true
	if !writable || e.writer != nil {
		return false
	}
	e.writer = newWriter(t.feed, e.store, e.clock, e.tracer)
	return true
}

// consume applies every entry of t's stream until the stream ends or the
// feed is removed.
func (e *Engine) consume(ctx context.Context, t *tracked) {
	defer close(t.done)
	id := t.feed.ID()

	entries, err := t.feed.Stream(ctx, feed.StreamOptions{
		Live: e.live,
		OnError: func(err error) {
			e.stats.errors.Add(1)
			slog.Error("feed stream failed", "feed", id, "error", err)
		},
	})
	if err != nil {
		if ctx.Err() == nil {
			e.stats.errors.Add(1)
			slog.Error("open feed stream", "feed", id, "error", err)
		}
		return
	}

	for entry := range entries {
		if ctx.Err() != nil {
			// Removed while the entry was in flight on the channel.
			return
		}
		// The entry is applied even if the feed is removed meanwhile.
		e.apply(context.WithoutCancel(ctx), id, entry)
	}
	slog.Debug("feed stream ended", "feed", id)
}

// apply runs the conflict policy for one entry against the store.
func (e *Engine) apply(ctx context.Context, source ir.FeedID, entry ir.Entry) {
	ctx, span := e.tracer.Start(ctx, "regfeed.apply",
		trace.WithAttributes(
			attribute.String("feed", string(source)),
			attribute.String("name", entry.Name),
			attribute.String("version", entry.Version().String()),
		),
	)
	defer span.End()

	if err := entry.Validate(); err != nil {
		e.stats.errors.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("invalid entry skipped", "feed", source, "name", entry.Name, "error", err)
		return
	}

	e.clock.Observe(entry.Seq)

	d, err := store.Apply(ctx, e.store, entry, e.prune)
	if err != nil {
		e.stats.errors.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("apply entry",
			"feed", source,
			"name", entry.Name,
			"seq", entry.Seq,
			"author", entry.Author,
			"error", err,
		)
		return
	}
	span.SetAttributes(attribute.String("decision", d.String()))
	e.stats.record(d)

	if d == policy.DecisionDrop {
		slog.Debug("entry dropped", "feed", source, "name", entry.Name, "seq", entry.Seq, "author", entry.Author)
		capitan.Emit(ctx, EntryDropped,
			KeyFeed.Field(string(source)),
			KeyName.Field(entry.Name),
			KeyVersion.Field(entry.Version().String()),
		)
		return
	}
	slog.Debug("entry applied",
		"feed", source,
		"name", entry.Name,
		"seq", entry.Seq,
		"author", entry.Author,
		"decision", d,
	)
	capitan.Emit(ctx, EntryApplied,
		KeyFeed.Field(string(source)),
		KeyName.Field(entry.Name),
		KeyVersion.Field(entry.Version().String()),
		KeyDecision.Field(d.String()),
	)
}

// Create appends a new value for e.Name through the writer.
// It awaits Ready and fails with ErrNoWritableFeed when no feed is
// writable. The registry changes once the writer's own consumer applies
// the appended entry.
func (e *Engine) Create(ctx context.Context, entry ir.Entry) (ir.Entry, error) {
	w, err := e.awaitWriter(ctx)
	if err != nil {
		return ir.Entry{}, err
	}
	return w.Create(ctx, entry)
}

// Update appends a replacement value for e.Name through the writer.
func (e *Engine) Update(ctx context.Context, entry ir.Entry) (ir.Entry, error) {
	w, err := e.awaitWriter(ctx)
	if err != nil {
		return ir.Entry{}, err
	}
	return w.Update(ctx, entry)
}

// Remove appends a tombstone for e.Name through the writer.
func (e *Engine) Remove(ctx context.Context, entry ir.Entry) (ir.Entry, error) {
	w, err := e.awaitWriter(ctx)
	if err != nil {
		return ir.Entry{}, err
	}
	return w.Remove(ctx, entry)
}

func (e *Engine) awaitWriter(ctx context.Context) (*Writer, error) {
	if err := e.Ready(ctx); err != nil {
		return nil, fmt.Errorf("await ready: %w", err)
	}
	w := e.Writer()
	if w == nil {
		return nil, ErrNoWritableFeed
	}
	return w, nil
}

// Wait blocks until every consumer tracked at the time of the call has
// finished. With live streams consumers only finish when their feed is
// removed or closed, so Wait is mostly useful with WithLive(false).
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	pending := make([]chan struct{}, 0, len(e.feeds))
	for _, t := range e.feeds {
		pending = append(pending, t.done)
	}
	e.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops every consumer and waits for them to exit. The engine
// tracks no feeds afterwards and ignores AddFeed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	feeds := e.feeds
	e.feeds = make(map[ir.FeedID]*tracked)
	e.writer = nil
	e.mu.Unlock()

	e.cancel()
	for _, t := range feeds {
		<-t.done
	}
	slog.Info("engine closed", "feeds", len(feeds))
	return nil
}

// Stats is a snapshot of the engine's entry counters.
type Stats struct {
	Applied  int64 `json:"applied"`  // values written
	Removed  int64 `json:"removed"`  // live names removed
	Retained int64 `json:"retained"` // tombstones stored for names never seen
	Dropped  int64 `json:"dropped"`  // stale or duplicate entries
	Errors   int64 `json:"errors"`   // invalid entries, store and stream failures
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

type counters struct {
	applied  atomic.Int64
	removed  atomic.Int64
	retained atomic.Int64
	dropped  atomic.Int64
	errors   atomic.Int64
}

func (c *counters) record(d policy.Decision) {
	switch d {
	case policy.DecisionWrite:
		c.applied.Add(1)
	case policy.DecisionRemove:
		c.removed.Add(1)
	case policy.DecisionRetain:
		c.retained.Add(1)
	default:
		c.dropped.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Applied:  c.applied.Load(),
		Removed:  c.removed.Load(),
		Retained: c.retained.Load(),
		Dropped:  c.dropped.Load(),
		Errors:   c.errors.Load(),
	}
}
