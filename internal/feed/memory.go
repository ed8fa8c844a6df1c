package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/netrunner/regfeed/internal/ir"
)

// MemFeed is an in-memory feed.
//
// Writable MemFeeds accept Append. Any MemFeed accepts Deliver, which stands
// in for entries replicated from a remote author.
//
// Thread-safety: all methods are safe for concurrent use. Any number of
// streams may read the same feed.
type MemFeed struct {
	id       ir.FeedID
	writable bool
	readyFn  func(ctx context.Context) error

	mu      sync.Mutex
	entries []ir.Entry
	changed chan struct{} // closed and replaced on every append
	closed  bool
	probes  int
}

// MemOption configures a MemFeed.
type MemOption func(*MemFeed)

// WithID sets the feed identity. Without it a UUIDv7 is minted.
func WithID(id ir.FeedID) MemOption {
	return func(f *MemFeed) {
		f.id = id
	}
}

// Writable makes the feed report ReadWrite and accept Append.
func Writable() MemOption {
	return func(f *MemFeed) {
		f.writable = true
	}
}

// WithReadyFunc runs fn on every Ready call before the capability is
// reported. A non-nil error fails the probe. Tests use it to delay or
// fail readiness.
func WithReadyFunc(fn func(ctx context.Context) error) MemOption {
	return func(f *MemFeed) {
		f.readyFn = fn
	}
}

// WithEntries seeds the feed with existing entries.
func WithEntries(entries ...ir.Entry) MemOption {
	return func(f *MemFeed) {
		f.entries = append(f.entries, entries...)
	}
}

// NewMemFeed creates an in-memory feed.
func NewMemFeed(opts ...MemOption) *MemFeed {
	f := &MemFeed{
		entries: make([]ir.Entry, 0, 16),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.id == "" {
		f.id = UUIDv7Generator{}.Generate()
	}
	return f
}

// ID implements Feed.
func (f *MemFeed) ID() ir.FeedID {
	return f.id
}

// Ready implements Feed.
func (f *MemFeed) Ready(ctx context.Context) (Capability, error) {
	f.mu.Lock()
	f.probes++
	closed := f.closed
	f.mu.Unlock()

	if closed {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.readyFn != nil {
		if err := f.readyFn(ctx); err != nil {
			return 0, err
		}
	}
	if f.writable {
		return ReadWrite, nil
	}
	return Readable, nil
}

// Probes returns how many times Ready has been called.
func (f *MemFeed) Probes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

// Append implements Feed.
func (f *MemFeed) Append(ctx context.Context, e ir.Entry) error {
	if !f.writable {
		return ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.Deliver(e)
}

// Deliver adds an entry regardless of writability, as if it had been
// replicated from the feed's remote author.
func (f *MemFeed) Deliver(e ir.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("deliver to %s: %w", f.id, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	f.entries = append(f.entries, e)

	// Wake every waiting stream.
	close(f.changed)
	f.changed = make(chan struct{})
	return nil
}

// Len returns the number of entries in the feed.
func (f *MemFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Entries returns a copy of the feed's entries in append order.
func (f *MemFeed) Entries() []ir.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ir.Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Close ends all streams. Further appends fail with ErrClosed.
func (f *MemFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.changed)
	return nil
}

// Stream implements Feed.
func (f *MemFeed) Stream(ctx context.Context, opts StreamOptions) (<-chan ir.Entry, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	out := make(chan ir.Entry)

	go func() {
		defer close(out)

		cursor := 0
		for {
			e, ok, wait, done := f.next(cursor)
			if done {
				return
			}
			if !ok {
				if !opts.Live {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-wait:
				}
				continue
			}

			select {
			case out <- e:
				cursor++
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// next returns the entry at cursor if present. Otherwise it returns the
// channel that will be closed on the next append. done is true once the
// feed is closed and every entry has been read.
func (f *MemFeed) next(cursor int) (e ir.Entry, ok bool, wait <-chan struct{}, done bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cursor < len(f.entries) {
		return f.entries[cursor], true, nil, false
	}
	if f.closed {
		return ir.Entry{}, false, nil, true
	}
	return ir.Entry{}, false, f.changed, false
}

var _ Feed = (*MemFeed)(nil)
