package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netrunner/regfeed/internal/feed"
	"github.com/netrunner/regfeed/internal/ir"
)

type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// workspace is a temp directory holding a registry database and feeds.
type workspace struct {
	dir string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return &workspace{dir: dir}
}

func (w *workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

// run executes the CLI with --db pointing at the workspace registry.
func (w *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", w.path("registry.db")}, args...))
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (w *workspace) runJSON(t *testing.T, args ...string) (jsonResponse, error) {
	t.Helper()
	out, err := w.run(t, append(args, "--format", "json")...)
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp, err
}

// peerFeed writes a feed file authored by id containing entries.
func (w *workspace) peerFeed(t *testing.T, file string, id ir.FeedID, entries ...ir.Entry) string {
	t.Helper()
	path := w.path(file)
	f, err := feed.OpenFile(path, feed.FileOptions{Writable: true, ID: id})
	require.NoError(t, err)
	defer f.Close()
	for _, e := range entries {
		require.NoError(t, f.Append(context.Background(), e))
	}
	return path
}

func decodeEntry(t *testing.T, resp jsonResponse) EntryView {
	t.Helper()
	var v EntryView
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}

func TestPutThenGet(t *testing.T) {
	w := newWorkspace(t)
	writer := w.path("local.feed")

	resp, err := w.runJSON(t, "--writer", writer, "put", "svc/api", `{"port":8080}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	written := decodeEntry(t, resp)
	assert.Equal(t, "svc/api", written.Name)
	assert.Equal(t, int64(1), written.Seq)
	assert.Equal(t, ir.DeriveFeedID(writer), written.Author)

	resp, err = w.runJSON(t, "get", "svc/api")
	require.NoError(t, err)
	got := decodeEntry(t, resp)
	assert.Equal(t, ir.IRObject{"port": ir.IRInt(8080)}, got.Value)
	assert.Equal(t, written.Hash, got.Hash)
}

func TestPutAdvancesPastPeerVersion(t *testing.T) {
	w := newWorkspace(t)
	peer := w.peerFeed(t, "peer.feed", "peer",
		ir.Entry{Name: "svc/api", Value: ir.IRObject{"port": ir.IRInt(1)}, Seq: 41, Author: "peer"},
	)

	resp, err := w.runJSON(t, "--writer", w.path("local.feed"), "--feed", peer,
		"put", "--update", "svc/api", `{"port":2}`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), decodeEntry(t, resp).Seq)

	resp, err = w.runJSON(t, "get", "svc/api")
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"port": ir.IRInt(2)}, decodeEntry(t, resp).Value)
}

func TestRemoveHidesName(t *testing.T) {
	w := newWorkspace(t)
	writer := w.path("local.feed")

	_, err := w.run(t, "--writer", writer, "put", "svc/api", `{"port":8080}`)
	require.NoError(t, err)

	out, err := w.run(t, "--writer", writer, "rm", "svc/api")
	require.NoError(t, err)
	assert.Contains(t, out, "(removed)")

	resp, err := w.runJSON(t, "get", "svc/api")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)

	out, err = w.run(t, "list", "--tombstones")
	require.NoError(t, err)
	assert.Contains(t, out, "svc/api")
}

func TestPutWithoutWriter(t *testing.T) {
	w := newWorkspace(t)
	peer := w.peerFeed(t, "peer.feed", "peer")

	resp, err := w.runJSON(t, "--feed", peer, "put", "svc/api", `{"port":8080}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNoWriter, resp.Error.Code)
}

func TestPutRejectsNonObjectValue(t *testing.T) {
	w := newWorkspace(t)

	resp, err := w.runJSON(t, "--writer", w.path("local.feed"), "put", "svc/api", `[1,2]`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeBadArgs, resp.Error.Code)
}

func TestReplayAndList(t *testing.T) {
	w := newWorkspace(t)
	a := w.peerFeed(t, "a.feed", "feed-a",
		ir.Entry{Name: "svc/api", Value: ir.IRObject{"v": ir.IRInt(1)}, Seq: 1, Author: "feed-a"},
		ir.Entry{Name: "svc/db", Value: ir.IRObject{"v": ir.IRInt(1)}, Seq: 2, Author: "feed-a"},
	)
	b := w.peerFeed(t, "b.feed", "feed-b",
		ir.Entry{Name: "svc/api", Value: ir.IRObject{"v": ir.IRInt(2)}, Seq: 1, Author: "feed-b"},
		ir.Entry{Name: "web/ui", Value: ir.IRObject{"v": ir.IRInt(1)}, Seq: 1, Author: "feed-b"},
		ir.NewTombstone("svc/db", ir.Version{Seq: 3, Author: "feed-b"}),
	)

	out, err := w.run(t, "--feed", a, "--feed", b, "replay")
	require.NoError(t, err)
	assert.Contains(t, out, "errors=0")

	resp, err := w.runJSON(t, "list", "--prefix", "svc/")
	require.NoError(t, err)
	var views []EntryView
	require.NoError(t, json.Unmarshal(resp.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "svc/api", views[0].Name)
	assert.Equal(t, ir.FeedID("feed-b"), views[0].Author, "equal seq resolves by author")

	out, err = w.run(t, "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "svc/api\t"))
	assert.True(t, strings.HasPrefix(lines[1], "web/ui\t"))

	// Replaying again changes nothing.
	resp, err = w.runJSON(t, "--feed", a, "--feed", b, "replay")
	require.NoError(t, err)
	var stats map[string]int64
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, int64(0), stats["applied"])
	assert.Equal(t, int64(5), stats["dropped"])
}

func TestListRejectsNegativeLimit(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.run(t, "list", "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetSync(t *testing.T) {
	w := newWorkspace(t)
	peer := w.peerFeed(t, "peer.feed", "peer",
		ir.Entry{Name: "svc/api", Value: ir.IRObject{"v": ir.IRInt(7)}, Seq: 1, Author: "peer"},
	)

	_, err := w.run(t, "get", "svc/api")
	require.Error(t, err)

	resp, err := w.runJSON(t, "--feed", peer, "get", "--sync", "svc/api")
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"v": ir.IRInt(7)}, decodeEntry(t, resp).Value)
}

func TestVerify(t *testing.T) {
	w := newWorkspace(t)
	good := w.peerFeed(t, "good.feed", "feed-a",
		ir.Entry{Name: "svc/api", Value: ir.IRObject{"port": ir.IRInt(1)}, Seq: 1, Author: "feed-a"},
	)

	resp, err := w.runJSON(t, "verify", good)
	require.NoError(t, err)
	var results []VerifyResult
	require.NoError(t, json.Unmarshal(resp.Data, &results))
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Report)
	assert.Equal(t, int64(1), results[0].Report.Records)
	assert.Equal(t, ir.FeedID("feed-a"), results[0].Report.Feed)

	data, err := os.ReadFile(good)
	require.NoError(t, err)
	tampered := w.path("tampered.feed")
	require.NoError(t, os.WriteFile(tampered, bytes.Replace(data, []byte(`"port":1`), []byte(`"port":2`), 1), 0o644))

	resp, err = w.runJSON(t, "verify", good, tampered)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeVerify, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "1 of 2")
}

func TestInvalidFormat(t *testing.T) {
	w := newWorkspace(t)

	_, err := w.run(t, "list", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestConfigFileFeeds(t *testing.T) {
	w := newWorkspace(t)
	peer := w.peerFeed(t, "peer.feed", "peer",
		ir.Entry{Name: "svc/api", Value: ir.IRObject{"v": ir.IRInt(1)}, Seq: 1, Author: "peer"},
	)
	cfg := "feeds:\n  - path: " + peer + "\n"
	require.NoError(t, os.WriteFile(w.path("regfeed.yaml"), []byte(cfg), 0o644))

	out, err := w.run(t, "replay")
	require.NoError(t, err)
	assert.Contains(t, out, "applied=1")
}
