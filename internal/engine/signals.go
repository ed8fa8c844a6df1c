package engine

import "github.com/zoobzio/capitan"

// Feed lifecycle signals.
var (
	// FeedAdded is emitted when a feed starts being tracked.
	FeedAdded = capitan.NewSignal(
		"regfeed.feed.added",
		"Feed tracked and consumer started",
	)

	// FeedRemoved is emitted after a feed's consumer has stopped.
	FeedRemoved = capitan.NewSignal(
		"regfeed.feed.removed",
		"Feed untracked and consumer stopped",
	)

	// ProbeFailed is emitted when a feed's readiness probe fails.
	ProbeFailed = capitan.NewSignal(
		"regfeed.probe.failed",
		"Feed readiness probe failed",
	)

	// WriterDesignated is emitted when a feed takes the writer slot.
	WriterDesignated = capitan.NewSignal(
		"regfeed.writer.designated",
		"Writable feed designated as registry writer",
	)
)

// Entry processing signals.
var (
	// EntryApplied is emitted when an entry changes the registry.
	EntryApplied = capitan.NewSignal(
		"regfeed.entry.applied",
		"Entry accepted into the registry",
	)

	// EntryDropped is emitted when an entry loses to the stored version.
	EntryDropped = capitan.NewSignal(
		"regfeed.entry.dropped",
		"Stale entry dropped",
	)
)

// Signal field keys.
var (
	// KeyFeed is the feed identity.
	KeyFeed = capitan.NewStringKey("feed")

	// KeyName is the registry name.
	KeyName = capitan.NewStringKey("name")

	// KeyVersion is the entry version as seq@author.
	KeyVersion = capitan.NewStringKey("version")

	// KeyDecision is the policy decision.
	KeyDecision = capitan.NewStringKey("decision")

	// KeyError is the error message.
	KeyError = capitan.NewStringKey("error")
)
