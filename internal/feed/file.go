package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/netrunner/regfeed/internal/ir"
)

// fileHeader is the first line of every feed file.
type fileHeader struct {
	Feed   ir.FeedID `json:"feed"`
	Format string    `json:"format"`
}

// fileRecord is one appended entry. Hash covers the index, the previous
// record's hash and the entry's content hash.
type fileRecord struct {
	Index int64    `json:"index"`
	Prev  string   `json:"prev"`
	Hash  string   `json:"hash"`
	Entry ir.Entry `json:"entry"`
}

// FileOptions configures OpenFile.
type FileOptions struct {
	// Writable opens the file for appending, creating it if missing.
	Writable bool

	// ID is written into the header of a newly created file. When empty
	// the ID is derived from the file's absolute path. Existing files keep
	// the ID recorded in their header.
	ID ir.FeedID
}

// FileFeed is a hash-chained JSON-lines feed on disk.
type FileFeed struct {
	path     string
	id       ir.FeedID
	writable bool

	mu     sync.Mutex
	file   *os.File // append handle, writable feeds only
	loaded bool
	next   int64
	head   string
	closed bool
}

// OpenFile opens the feed stored at path. Only the header is read here;
// Ready verifies the whole chain.
func OpenFile(path string, opts FileOptions) (*FileFeed, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open feed %s: %w", path, err)
	}

	f := &FileFeed{path: abs, writable: opts.Writable}

	if opts.Writable {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("open feed %s: %w", path, err)
		}
		file, err := os.OpenFile(abs, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open feed %s: %w", path, err)
		}
		f.file = file

		st, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("open feed %s: %w", path, err)
		}
		if st.Size() == 0 {
			id := opts.ID
			if id == "" {
				id = ir.DeriveFeedID(abs)
			}
			if err := f.writeHeader(id); err != nil {
				file.Close()
				return nil, fmt.Errorf("open feed %s: %w", path, err)
			}
			f.id = id
			return f, nil
		}
	}

	hdr, err := readHeader(abs)
	if err != nil {
		if f.file != nil {
			f.file.Close()
		}
		return nil, fmt.Errorf("open feed %s: %w", path, err)
	}
	f.id = hdr.Feed
	return f, nil
}

func (f *FileFeed) writeHeader(id ir.FeedID) error {
	data, err := json.Marshal(fileHeader{Feed: id, Format: ir.RecordVersion})
	if err != nil {
		return err
	}
	if _, err := f.file.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.file.Sync()
}

func readHeader(path string) (fileHeader, error) {
	file, err := os.Open(path)
	if err != nil {
		return fileHeader{}, err
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadBytes('\n')
	if err != nil {
		return fileHeader{}, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	return decodeHeader(line)
}

func decodeHeader(line []byte) (fileHeader, error) {
	var hdr fileHeader
	if err := json.Unmarshal(line, &hdr); err != nil {
		return fileHeader{}, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if hdr.Feed == "" {
		return fileHeader{}, fmt.Errorf("%w: header has no feed id", ErrCorrupt)
	}
	if hdr.Format != ir.RecordVersion {
		return fileHeader{}, fmt.Errorf("%w: unsupported format %q", ErrCorrupt, hdr.Format)
	}
	return hdr, nil
}

// ID implements Feed.
func (f *FileFeed) ID() ir.FeedID {
	return f.id
}

// Path returns the absolute path of the feed file.
func (f *FileFeed) Path() string {
	return f.path
}

// Ready implements Feed. It verifies the hash chain on first use.
func (f *FileFeed) Ready(ctx context.Context) (Capability, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	if err := f.loadLocked(); err != nil {
		return 0, err
	}
	if f.writable {
		return ReadWrite, nil
	}
	return Readable, nil
}

// loadLocked scans the file once to find the chain head.
func (f *FileFeed) loadLocked() error {
	if f.loaded {
		return nil
	}
	report, err := VerifyFile(f.path)
	if err != nil {
		return err
	}
	if report.Partial && f.writable {
		return fmt.Errorf("%w: %s ends in an incomplete record", ErrCorrupt, f.path)
	}
	f.next = report.Records
	f.head = report.Head
	f.loaded = true
	return nil
}

// Append implements Feed.
func (f *FileFeed) Append(ctx context.Context, e ir.Entry) error {
	if !f.writable {
		return ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("append to %s: %w", f.id, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := f.loadLocked(); err != nil {
		return err
	}

	entryHash, err := ir.EntryHash(e)
	if err != nil {
		return fmt.Errorf("append to %s: %w", f.id, err)
	}
	rec := fileRecord{
		Index: f.next,
		Prev:  f.head,
		Hash:  ir.RecordHash(f.next, f.head, entryHash),
		Entry: e,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("append to %s: %w", f.id, err)
	}
	if _, err := f.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", f.id, err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("append to %s: %w", f.id, err)
	}

	f.next++
	f.head = rec.Hash
	return nil
}

// Close releases the append handle. Open streams keep running until their
// context is cancelled.
func (f *FileFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

// Stream implements Feed. Live streams tail the file with fsnotify.
// A broken chain ends the stream and is passed to opts.OnError, or logged
// when no handler is set.
func (f *FileFeed) Stream(ctx context.Context, opts StreamOptions) (<-chan ir.Entry, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", f.id, err)
	}

	var watcher *fsnotify.Watcher
	if opts.Live {
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("stream %s: create fsnotify watcher: %w", f.id, err)
		}
		if err := watcher.Add(f.path); err != nil {
			watcher.Close()
			file.Close()
			return nil, fmt.Errorf("stream %s: watch file: %w", f.id, err)
		}
	}

	out := make(chan ir.Entry)

	go func() {
		defer close(out)
		defer file.Close()
		if watcher != nil {
			defer watcher.Close()
		}

		cr := newChainReader(file)
		for {
			e, ok, err := cr.Next()
			if err != nil {
				err = fmt.Errorf("stream %s: %w", f.id, err)
				if opts.OnError != nil {
					opts.OnError(err)
					return
				}
				slog.Error("feed stream stopped", "feed", f.id, "path", f.path, "error", err)
				return
			}
			if ok {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				continue
			}

			if watcher == nil {
				return
			}
			if !waitForWrite(ctx, watcher) {
				return
			}
		}
	}()

	return out, nil
}

// waitForWrite blocks until the watched file is written. It returns false
// when ctx is done or the watcher shuts down.
func waitForWrite(ctx context.Context, watcher *fsnotify.Watcher) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-watcher.Events:
			if !ok {
				return false
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				return true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return false
			}
			slog.Warn("feed watcher error", "error", err)
		}
	}
}

// chainReader decodes records and checks each against its predecessor.
// A trailing line without a newline is held back until it is completed.
type chainReader struct {
	r       *bufio.Reader
	pending []byte
	header  *fileHeader
	index   int64
	head    string
}

func newChainReader(r io.Reader) *chainReader {
	return &chainReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next verified entry. ok is false when no complete line
// is available yet.
func (c *chainReader) Next() (ir.Entry, bool, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.pending = append(c.pending, line...)
				return ir.Entry{}, false, nil
			}
			return ir.Entry{}, false, err
		}
		if len(c.pending) > 0 {
			line = append(c.pending, line...)
			c.pending = nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if c.header == nil {
			hdr, err := decodeHeader(line)
			if err != nil {
				return ir.Entry{}, false, err
			}
			c.header = &hdr
			continue
		}

		e, err := c.verify(line)
		if err != nil {
			return ir.Entry{}, false, err
		}
		return e, true, nil
	}
}

func (c *chainReader) verify(line []byte) (ir.Entry, error) {
	var rec fileRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return ir.Entry{}, fmt.Errorf("%w: record %d: %v", ErrCorrupt, c.index, err)
	}
	if rec.Index != c.index {
		return ir.Entry{}, fmt.Errorf("%w: record index %d, expected %d", ErrCorrupt, rec.Index, c.index)
	}
	if rec.Prev != c.head {
		return ir.Entry{}, fmt.Errorf("%w: record %d does not link to its predecessor", ErrCorrupt, rec.Index)
	}
	if err := rec.Entry.Validate(); err != nil {
		return ir.Entry{}, fmt.Errorf("%w: record %d: %v", ErrCorrupt, rec.Index, err)
	}
	entryHash, err := ir.EntryHash(rec.Entry)
	if err != nil {
		return ir.Entry{}, fmt.Errorf("%w: record %d: %v", ErrCorrupt, rec.Index, err)
	}
	if want := ir.RecordHash(rec.Index, rec.Prev, entryHash); rec.Hash != want {
		return ir.Entry{}, fmt.Errorf("%w: record %d hash mismatch", ErrCorrupt, rec.Index)
	}

	c.index++
	c.head = rec.Hash
	return rec.Entry, nil
}

// VerifyReport summarizes a verified feed file.
type VerifyReport struct {
	Feed    ir.FeedID `json:"feed"`
	Records int64     `json:"records"`
	Head    string    `json:"head"`
	// Partial is true when the file ends in an incomplete record, as
	// happens when a writer is interrupted mid-append.
	Partial bool `json:"partial,omitempty"`
}

// VerifyFile walks the feed at path and checks every link of its chain.
func VerifyFile(path string) (VerifyReport, error) {
	file, err := os.Open(path)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("verify %s: %w", path, err)
	}
	defer file.Close()

	cr := newChainReader(file)
	for {
		_, ok, err := cr.Next()
		if err != nil {
			return VerifyReport{}, fmt.Errorf("verify %s: %w", path, err)
		}
		if !ok {
			break
		}
	}
	if cr.header == nil {
		return VerifyReport{}, fmt.Errorf("verify %s: %w: missing header", path, ErrCorrupt)
	}
	return VerifyReport{
		Feed:    cr.header.Feed,
		Records: cr.index,
		Head:    cr.head,
		Partial: len(bytes.TrimSpace(cr.pending)) > 0,
	}, nil
}

var _ Feed = (*FileFeed)(nil)
