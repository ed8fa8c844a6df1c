package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/netrunner/regfeed/internal/feed"
	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/store"
)

// Writer authors entries on the engine's writable feed.
//
// Every authored entry is stamped with the writer feed's ID and a seq from
// the engine clock that is greater than the seq of the name's current
// registered version. The writer never touches the store directly: the
// appended entry reaches the registry through the feed's own consumer.
type Writer struct {
	feed   feed.Feed
	store  store.Registry
	clock  *Clock
	tracer trace.Tracer

	mu sync.Mutex // serializes stamping and appending
}

func newWriter(f feed.Feed, s store.Registry, clock *Clock, tracer trace.Tracer) *Writer {
	return &Writer{
		feed:   f,
		store:  s,
		clock:  clock,
		tracer: tracer,
	}
}

// FeedID returns the ID of the feed the writer appends to.
func (w *Writer) FeedID() ir.FeedID {
	return w.feed.ID()
}

// Create appends e.Value under e.Name.
func (w *Writer) Create(ctx context.Context, e ir.Entry) (ir.Entry, error) {
	return w.append(ctx, "create", e.Name, e.Value, false)
}

// Update appends e.Value under e.Name. It is identical to Create; the
// registry does not distinguish first writes from replacements.
func (w *Writer) Update(ctx context.Context, e ir.Entry) (ir.Entry, error) {
	return w.append(ctx, "update", e.Name, e.Value, false)
}

// Remove appends a tombstone for e.Name. e.Value is ignored.
func (w *Writer) Remove(ctx context.Context, e ir.Entry) (ir.Entry, error) {
	return w.append(ctx, "remove", e.Name, nil, true)
}

func (w *Writer) append(ctx context.Context, op, name string, value ir.IRObject, tombstone bool) (ir.Entry, error) {
	ctx, span := w.tracer.Start(ctx, "regfeed.append",
		trace.WithAttributes(
			attribute.String("op", op),
			attribute.String("name", name),
			attribute.String("feed", string(w.feed.ID())),
		),
	)
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	cur, ok, err := w.store.Get(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ir.Entry{}, fmt.Errorf("%s %s: read current: %w", op, name, err)
	}
	if ok {
		w.clock.Observe(cur.Seq)
	}

	entry := ir.Entry{
		Name:      name,
		Value:     value,
		Seq:       w.clock.Next(),
		Author:    w.feed.ID(),
		Tombstone: tombstone,
	}
	if err := entry.Validate(); err != nil {
		return ir.Entry{}, fmt.Errorf("%s %s: %w", op, name, err)
	}

	if err := w.feed.Append(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("append failed", "op", op, "feed", entry.Author, "name", name, "error", err)
		return ir.Entry{}, NewAppendError(entry.Author, name, err)
	}

	span.SetAttributes(attribute.Int64("seq", entry.Seq))
	slog.Info("entry appended", "op", op, "feed", entry.Author, "name", name, "seq", entry.Seq)
	return entry, nil
}
