package feed

import (
	"context"
	"errors"

	"github.com/netrunner/regfeed/internal/ir"
)

// Capability is what a feed reports once it is ready.
type Capability int

const (
	// Readable feeds deliver entries but reject appends.
	Readable Capability = iota + 1
	// ReadWrite feeds can also be appended to by this process.
	ReadWrite
)

// String implements fmt.Stringer.
func (c Capability) String() string {
	switch c {
	case Readable:
		return "readable"
	case ReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// Writable reports whether the capability permits appends.
func (c Capability) Writable() bool {
	return c == ReadWrite
}

// StreamOptions configures a read stream.
type StreamOptions struct {
	// Live keeps the stream open after existing entries are delivered and
	// forwards entries as they are appended. When false the channel closes
	// after the last existing entry.
	Live bool

	// OnError receives the error that ends a stream early, such as a broken
	// hash chain. It is called before the channel closes. Nil errors are
	// never passed, and cancellation is not an error.
	OnError func(error)
}

// Feed is an ordered, append-only log of entries.
//
// Entries are delivered on a stream in append order. Stream channels close
// when the context passed to Stream is cancelled, when the feed is closed,
// for non-live streams after the last existing entry, or after a failure
// reported through StreamOptions.OnError.
type Feed interface {
	// ID returns the feed's stable identity. It never blocks.
	ID() ir.FeedID

	// Ready brings the feed to readiness and reports its capability.
	Ready(ctx context.Context) (Capability, error)

	// Stream starts delivering entries from the beginning of the feed.
	Stream(ctx context.Context, opts StreamOptions) (<-chan ir.Entry, error)

	// Append adds an entry at the end of the feed.
	// Read-only feeds return ErrReadOnly.
	Append(ctx context.Context, e ir.Entry) error
}

// Sentinel errors.
var (
	ErrReadOnly = errors.New("feed is read-only")
	ErrClosed   = errors.New("feed is closed")
	ErrCorrupt  = errors.New("feed is corrupt")
)
