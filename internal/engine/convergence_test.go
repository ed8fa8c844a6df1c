package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/netrunner/regfeed/internal/feed"
	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/policy"
	"github.com/netrunner/regfeed/internal/store"
)

type nameVersion struct {
	name    string
	version ir.Version
}

func entryGen() *rapid.Generator[ir.Entry] {
	return rapid.Custom(func(t *rapid.T) ir.Entry {
		name := rapid.SampledFrom([]string{"x", "y", "z"}).Draw(t, "name")
		v := ir.Version{
			Seq:    rapid.Int64Range(1, 6).Draw(t, "seq"),
			Author: ir.FeedID(rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "author")),
		}
		if rapid.Bool().Draw(t, "tombstone") {
			return ir.NewTombstone(name, v)
		}
		return ir.Entry{Name: name, Value: val(v.Seq), Seq: v.Seq, Author: v.Author}
	})
}

// Splitting the same entries across any number of feeds, in any order,
// leaves every name on its policy reduction.
func TestEngine_ConvergesAcrossFeeds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		entries := rapid.SliceOfNDistinct(entryGen(), 1, 16, func(e ir.Entry) nameVersion {
			return nameVersion{name: e.Name, version: e.Version()}
		}).Draw(rt, "entries")
		shuffled := rapid.Permutation(entries).Draw(rt, "shuffled")
		nfeeds := rapid.IntRange(1, 4).Draw(rt, "feeds")

		parts := make([][]ir.Entry, nfeeds)
		for i, e := range shuffled {
			f := rapid.IntRange(0, nfeeds-1).Draw(rt, fmt.Sprintf("feed-of-%d", i))
			parts[f] = append(parts[f], e)
		}

		feeds := make([]feed.Feed, nfeeds)
		for i, part := range parts {
			feeds[i] = feed.NewMemFeed(
				feed.WithID(ir.FeedID(fmt.Sprintf("feed-%d", i))),
				feed.WithEntries(part...),
			)
		}

		s := store.NewMem()
		e := New(feeds, s, WithLive(false))
		defer e.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(rt, e.Wait(ctx))

		byName := map[string][]ir.Entry{}
		for _, entry := range entries {
			byName[entry.Name] = append(byName[entry.Name], entry)
		}
		want := map[string]ir.Entry{}
		for name, group := range byName {
			if reduced, ok := policy.Reduce(group); ok {
				want[name] = reduced
			}
		}
		require.Equal(rt, want, s.Snapshot())
		require.Zero(rt, e.Stats().Errors)
	})
}
