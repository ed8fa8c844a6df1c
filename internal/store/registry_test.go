package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/policy"
)

// plainRegistry hides the Conditional and Lister implementations of the
// wrapped store so the get-decide-put fallback is exercised.
type plainRegistry struct {
	inner Registry
}

func (p plainRegistry) Get(ctx context.Context, name string) (ir.Entry, bool, error) {
	return p.inner.Get(ctx, name)
}

func (p plainRegistry) Put(ctx context.Context, name string, e ir.Entry) error {
	return p.inner.Put(ctx, name, e)
}

func (p plainRegistry) Delete(ctx context.Context, name string) error {
	return p.inner.Delete(ctx, name)
}

// registries returns one fresh instance of every implementation.
func registries(t *testing.T) map[string]Registry {
	t.Helper()
	return map[string]Registry{
		"memory":        NewMem(),
		"sqlite":        openTestStore(t),
		"cached-memory": NewCached(NewMem(), 0),
		"cached-sqlite": NewCached(openTestStore(t), 0),
		"plain":         plainRegistry{inner: NewMem()},
	}
}

func value(seq int64, author ir.FeedID) ir.Entry {
	return ir.Entry{
		Name:   "x",
		Value:  ir.IRObject{"seq": ir.IRInt(seq), "author": ir.IRString(author)},
		Seq:    seq,
		Author: author,
	}
}

func removal(seq int64, author ir.FeedID) ir.Entry {
	return ir.NewTombstone("x", ir.Version{Seq: seq, Author: author})
}

func TestRegistryGetPutDelete(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := r.Get(ctx, "x")
			require.NoError(t, err)
			assert.False(t, ok)

			e := value(1, "a")
			require.NoError(t, r.Put(ctx, "x", e))

			got, ok, err := r.Get(ctx, "x")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, e, got)

			require.NoError(t, r.Delete(ctx, "x"))
			_, ok, err = r.Get(ctx, "x")
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting again is a no-op.
			require.NoError(t, r.Delete(ctx, "x"))
		})
	}
}

func TestRegistryApplyRetaining(t *testing.T) {
	steps := []struct {
		entry ir.Entry
		want  policy.Decision
	}{
		{removal(1, "a"), policy.DecisionRetain},
		{value(1, "a"), policy.DecisionDrop},
		{value(2, "a"), policy.DecisionWrite},
		{value(2, "a"), policy.DecisionDrop},
		{value(2, "b"), policy.DecisionWrite},
		{removal(2, "b"), policy.DecisionDrop},
		{removal(3, "a"), policy.DecisionRemove},
		{value(2, "z"), policy.DecisionDrop},
	}

	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, step := range steps {
				d, err := Apply(ctx, r, step.entry, false)
				require.NoError(t, err)
				assert.Equal(t, step.want, d, "step %d (%s)", i, step.entry.Version())
			}

			got, ok, err := r.Get(ctx, "x")
			require.NoError(t, err)
			require.True(t, ok, "tombstone must be retained")
			assert.True(t, got.Tombstone)
			assert.Equal(t, ir.Version{Seq: 3, Author: "a"}, got.Version())

			_, err = Visible(ctx, r, "x")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRegistryApplyPrune(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			d, err := Apply(ctx, r, removal(1, "a"), true)
			require.NoError(t, err)
			assert.Equal(t, policy.DecisionDrop, d, "pruning drops tombstones for absent names")

			d, err = Apply(ctx, r, value(1, "a"), true)
			require.NoError(t, err)
			assert.Equal(t, policy.DecisionWrite, d)

			d, err = Apply(ctx, r, removal(1, "a"), true)
			require.NoError(t, err)
			assert.Equal(t, policy.DecisionDrop, d, "equal version does not remove")

			d, err = Apply(ctx, r, removal(2, "a"), true)
			require.NoError(t, err)
			assert.Equal(t, policy.DecisionRemove, d)

			_, ok, err := r.Get(ctx, "x")
			require.NoError(t, err)
			assert.False(t, ok, "pruned names are deleted")
		})
	}
}

func TestRegistryVisible(t *testing.T) {
	ctx := context.Background()
	r := NewMem()

	_, err := Visible(ctx, r, "x")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Put(ctx, "x", value(1, "a")))
	e, err := Visible(ctx, r, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Seq)
}

func TestListerFiltering(t *testing.T) {
	listers := map[string]Lister{
		"memory":        NewMem(),
		"sqlite":        openTestStore(t),
		"cached-sqlite": NewCached(openTestStore(t), 0),
	}

	for name, l := range listers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := l.(Registry)

			for i, n := range []string{"svc/db", "svc/api", "job/cron", "svc/cache"} {
				e := ir.Entry{Name: n, Seq: int64(i + 1), Author: "a"}
				require.NoError(t, r.Put(ctx, n, e))
			}
			require.NoError(t, r.Put(ctx, "svc/old", ir.NewTombstone("svc/old", ir.Version{Seq: 9, Author: "a"})))

			all, err := l.List(ctx, ListOptions{})
			require.NoError(t, err)
			assert.Equal(t, []string{"job/cron", "svc/api", "svc/cache", "svc/db"}, names(all))

			svc, err := l.List(ctx, ListOptions{Prefix: "svc/", IncludeTombstones: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"svc/api", "svc/cache", "svc/db", "svc/old"}, names(svc))

			limited, err := l.List(ctx, ListOptions{Prefix: "svc/", Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{"svc/api", "svc/cache"}, names(limited))

			// Prefix matching is literal and case-sensitive.
			none, err := l.List(ctx, ListOptions{Prefix: "SVC%"})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestCachedListRequiresLister(t *testing.T) {
	c := NewCached(plainRegistry{inner: NewMem()}, 0)
	_, err := c.List(context.Background(), ListOptions{})
	require.Error(t, err)
}

func TestCachedRegistryInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := NewMem()
	c := NewCached(inner, 0)

	require.NoError(t, c.Put(ctx, "x", value(1, "a")))
	_, _, err := c.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len(), "Get fills the cache")

	d, err := c.Apply(ctx, value(2, "a"), false)
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionWrite, d)
	assert.Equal(t, 0, c.Len(), "mutation evicts the name")

	got, _, err := c.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Seq)

	c.Flush()
	assert.Equal(t, 0, c.Len())
}

type failingRegistry struct {
	plainRegistry
}

func (failingRegistry) Get(context.Context, string) (ir.Entry, bool, error) {
	return ir.Entry{}, false, errors.New("disk on fire")
}

func TestApplyPropagatesStoreErrors(t *testing.T) {
	_, err := Apply(context.Background(), failingRegistry{}, value(1, "a"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

// Concurrent appliers for one name end on the maximum version.
func TestConditionalApplyConcurrent(t *testing.T) {
	for name, r := range map[string]Registry{"memory": NewMem(), "sqlite": openTestStore(t)} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				author := ir.FeedID(fmt.Sprintf("feed-%d", w))
				wg.Add(1)
				go func() {
					defer wg.Done()
					for seq := int64(1); seq <= 25; seq++ {
						_, err := Apply(ctx, r, value(seq, author), false)
						assert.NoError(t, err)
					}
				}()
			}
			wg.Wait()

			got, ok, err := r.Get(ctx, "x")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ir.Version{Seq: 25, Author: "feed-3"}, got.Version())
		})
	}
}

// Any order of applying the same entries leaves the policy reduction.
func TestApplyConvergesUnderPermutation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		gen := rapid.Custom(func(rt *rapid.T) ir.Entry {
			seq := rapid.Int64Range(1, 5).Draw(rt, "seq")
			author := ir.FeedID(rapid.SampledFrom([]string{"a", "b", "c"}).Draw(rt, "author"))
			if rapid.Bool().Draw(rt, "tombstone") {
				return removal(seq, author)
			}
			return value(seq, author)
		})
		entries := rapid.SliceOfNDistinct(gen, 1, 10, func(e ir.Entry) ir.Version {
			return e.Version()
		}).Draw(rt, "entries")
		shuffled := rapid.Permutation(entries).Draw(rt, "shuffled")

		ctx := context.Background()
		r := NewMem()
		for _, e := range shuffled {
			_, err := Apply(ctx, r, e, false)
			require.NoError(rt, err)
		}

		want, _ := policy.Reduce(entries)
		got, ok, err := r.Get(ctx, "x")
		require.NoError(rt, err)
		require.True(rt, ok)
		require.Equal(rt, want, got)
	})
}

func names(entries []ir.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
