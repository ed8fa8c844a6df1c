package ir

import (
	"errors"
	"fmt"
	"strings"
)

// FeedID identifies a feed independently of its content, so the same
// logical feed can be tracked across calls and restarts.
type FeedID string

// String implements fmt.Stringer.
func (id FeedID) String() string { return string(id) }

// Version is the ordering metadata of an entry.
//
// Versions form a total order: the higher Seq wins, and equal Seq values are
// broken by byte-wise comparison of Author (the greater author wins). Two
// entries with equal versions are the same version of a name.
type Version struct {
	Seq    int64  `json:"seq"`
	Author FeedID `json:"author"`
}

// Compare returns -1, 0 or +1 depending on whether v sorts before, equal to,
// or after o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Seq < o.Seq:
		return -1
	case v.Seq > o.Seq:
		return 1
	}
	return strings.Compare(string(v.Author), string(o.Author))
}

// After reports whether v is strictly newer than o.
func (v Version) After(o Version) bool {
	return v.Compare(o) > 0
}

// String renders the version as seq@author.
func (v Version) String() string {
	return fmt.Sprintf("%d@%s", v.Seq, v.Author)
}

// Entry is the unit of data carried by a feed.
//
// A tombstone is an Entry with Tombstone set and no Value. Tombstones mark a
// name as removed as of their version.
type Entry struct {
	Name      string   `json:"name"`
	Value     IRObject `json:"value,omitempty"`
	Seq       int64    `json:"seq"`
	Author    FeedID   `json:"author"`
	Tombstone bool     `json:"tombstone,omitempty"`
}

// Version returns the entry's ordering metadata.
func (e Entry) Version() Version {
	return Version{Seq: e.Seq, Author: e.Author}
}

// Validation errors returned by Entry.Validate.
var (
	ErrEmptyName      = errors.New("entry name is required")
	ErrInvalidSeq     = errors.New("entry seq must be positive")
	ErrMissingAuthor  = errors.New("entry author is required")
	ErrTombstoneValue = errors.New("tombstone must not carry a value")
)

// Validate checks the fields the conflict policy depends on.
// Payload schema is not inspected.
func (e Entry) Validate() error {
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.Seq <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSeq, e.Seq)
	}
	if e.Author == "" {
		return ErrMissingAuthor
	}
	if e.Tombstone && len(e.Value) > 0 {
		return ErrTombstoneValue
	}
	return nil
}

// NewTombstone builds a removal marker for name at version v.
func NewTombstone(name string, v Version) Entry {
	return Entry{
		Name:      name,
		Seq:       v.Seq,
		Author:    v.Author,
		Tombstone: true,
	}
}
