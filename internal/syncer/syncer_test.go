package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/s3downloader/internal/localfs"
	"github.com/andresuchdata/s3downloader/internal/storage"
	"github.com/andresuchdata/s3downloader/internal/testutil"
)

const bucket = "my-bucket"

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// entries returns the decoded log lines at the given level.
func (b *logBuffer) entries(t *testing.T, level string) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["level"] == level {
			out = append(out, entry)
		}
	}
	return out
}

type fixture struct {
	store *testutil.MemoryStore
	dir   *localfs.Dir
	logs  *logBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := localfs.Open(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	return &fixture{
		store: testutil.NewMemoryStore(),
		dir:   dir,
		logs:  &logBuffer{},
	}
}

func (f *fixture) run(t *testing.T, opts Options) *Report {
	t.Helper()
	opts.Bucket = bucket
	s, err := New(f.store, f.dir, opts, zerolog.New(f.logs).Level(zerolog.DebugLevel))
	require.NoError(t, err)

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	return report
}

func (f *fixture) writeLocal(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir.Path(), name), []byte(content), 0o644))
}

func (f *fixture) readLocal(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir.Path(), name))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) localNames(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir.Path())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRunDownloadsMissingFiles(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "images/a.png", "A")
	f.store.Put(bucket, "images/b.png", "BB")
	f.store.Put(bucket, "docs/c.txt", "C")

	report := f.run(t, Options{Prefix: "images/"})

	require.True(t, report.OK())
	assert.Equal(t, []string{"images/a.png", "images/b.png"}, report.Download.Downloaded)
	assert.EqualValues(t, 3, report.Download.Bytes)
	assert.Nil(t, report.Delete)

	assert.Equal(t, "A", f.readLocal(t, "a.png"))
	assert.Equal(t, "BB", f.readLocal(t, "b.png"))
	assert.ElementsMatch(t, []string{"a.png", "b.png"}, f.localNames(t))

	assert.Equal(t, []string{"docs/c.txt", "images/a.png", "images/b.png"}, f.store.Keys(bucket))
	assert.Empty(t, f.store.Deleted)
}

func TestRunSkipsExistingLocalFileRegardlessOfContent(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "images/a.png", "remote A")
	f.store.Put(bucket, "images/b.png", "remote B")
	f.writeLocal(t, "a.png", "local A")

	report := f.run(t, Options{Prefix: "images/"})

	require.True(t, report.OK())
	assert.Equal(t, []string{"images/a.png"}, report.Download.Skipped)
	assert.Equal(t, []string{"images/b.png"}, report.Download.Downloaded)
	assert.Equal(t, []string{"images/b.png"}, f.store.Downloaded)

	assert.Equal(t, "local A", f.readLocal(t, "a.png"))
	assert.Equal(t, "remote B", f.readLocal(t, "b.png"))

	warnings := f.logs.entries(t, "warn")
	require.Len(t, warnings, 1)
	assert.Equal(t, "images/a.png", warnings[0]["key"])
	assert.Equal(t, "file already exists locally, skipping", warnings[0]["message"])
}

func TestRunDeletesListedObjectsAfterSuccess(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "images/a.png", "A")
	f.store.Put(bucket, "images/b.png", "B")
	f.store.Put(bucket, "keep/c.png", "C")
	f.writeLocal(t, "a.png", "already here")

	report := f.run(t, Options{Prefix: "images/", DeleteAfter: true})

	require.True(t, report.OK())
	require.NotNil(t, report.Delete)
	// Skipped objects are deleted too.
	assert.Equal(t, []string{"images/a.png", "images/b.png"}, report.Delete.Deleted)
	assert.Equal(t, []string{"keep/c.png"}, f.store.Keys(bucket))
}

func TestRunDeleteUsesOriginalListing(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "in/a.csv", "A")
	f.store.OnDownload = func(key string) {
		if key == "in/a.csv" {
			f.store.Put(bucket, "in/late.csv", "arrived during the pass")
		}
	}

	report := f.run(t, Options{Prefix: "in/", DeleteAfter: true})

	require.True(t, report.OK())
	assert.Equal(t, []string{"in/a.csv"}, report.Delete.Deleted)
	assert.Equal(t, []string{"in/late.csv"}, f.store.Keys(bucket))
	assert.Equal(t, 1, f.store.Listed)
}

func TestRunDownloadFailureDisablesDelete(t *testing.T) {
	f := newFixture(t)
	for _, k := range []string{"p/1", "p/2", "p/3", "p/4"} {
		f.store.Put(bucket, k, "data "+k)
	}
	f.store.DownloadErrs["p/2"] = errors.New("connection reset")

	report := f.run(t, Options{Prefix: "p/", DeleteAfter: true})

	assert.False(t, report.OK())
	assert.Nil(t, report.Delete)
	assert.Empty(t, f.store.Deleted)
	assert.Len(t, f.store.Keys(bucket), 4)

	require.Len(t, report.Download.Failed, 1)
	assert.Equal(t, "p/2", report.Download.Failed[0].Key)
	assert.Equal(t, []string{"p/1"}, report.Download.Downloaded)
	// The batch stops at the first failure.
	assert.Equal(t, []string{"p/3", "p/4"}, report.Download.Aborted)
	assert.Equal(t, []string{"p/1", "p/2"}, f.store.Downloaded)
	assert.ElementsMatch(t, []string{"1"}, f.localNames(t))
}

func TestRunNeverDeletesWhenFlagIsOff(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "a", "A")
	f.store.Put(bucket, "b", "B")
	f.store.DownloadErrs["b"] = errors.New("boom")

	report := f.run(t, Options{})
	assert.False(t, report.OK())
	assert.Nil(t, report.Delete)

	f.store.DownloadErrs = map[string]error{}
	report = f.run(t, Options{})
	assert.True(t, report.OK())
	assert.Nil(t, report.Delete)

	assert.Empty(t, f.store.Deleted)
	assert.Equal(t, []string{"a", "b"}, f.store.Keys(bucket))
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "images/a.png", "A")
	f.store.Put(bucket, "images/b.png", "B")

	first := f.run(t, Options{Prefix: "images/"})
	require.True(t, first.OK())
	before := map[string]string{"a.png": f.readLocal(t, "a.png"), "b.png": f.readLocal(t, "b.png")}

	second := f.run(t, Options{Prefix: "images/"})
	require.True(t, second.OK())
	assert.Empty(t, second.Download.Downloaded)
	assert.Equal(t, []string{"images/a.png", "images/b.png"}, second.Download.Skipped)

	assert.ElementsMatch(t, []string{"a.png", "b.png"}, f.localNames(t))
	for name, content := range before {
		assert.Equal(t, content, f.readLocal(t, name))
	}
}

func TestRunListFailure(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "a", "A")
	f.store.ListErr = errors.New("invalid credentials")

	report := f.run(t, Options{DeleteAfter: true})

	assert.False(t, report.OK())
	assert.Error(t, report.ListErr)
	assert.Empty(t, f.store.Downloaded)
	assert.Nil(t, report.Delete)
}

func TestRunEmptyListing(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "other/a", "A")

	report := f.run(t, Options{Prefix: "images/", DeleteAfter: true})

	assert.True(t, report.OK())
	assert.Empty(t, report.Download.Downloaded)
	require.NotNil(t, report.Delete)
	assert.Empty(t, report.Delete.Deleted)
}

func TestRunBaseNameCollision(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "x/a.png", "from x")
	f.store.Put(bucket, "y/a.png", "from y")

	report := f.run(t, Options{Workers: 4})

	require.True(t, report.OK())
	assert.Equal(t, []string{"x/a.png"}, report.Download.Downloaded)
	assert.Equal(t, []string{"y/a.png"}, report.Download.Skipped)
	assert.Equal(t, "from x", f.readLocal(t, "a.png"))
	assert.Len(t, f.logs.entries(t, "warn"), 1)
}

func TestRunDirectoryPlaceholders(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "images/", "")
	f.store.Put(bucket, "images/a.png", "A")

	report := f.run(t, Options{Prefix: "images/", DeleteAfter: true})

	require.True(t, report.OK())
	assert.Equal(t, []string{"images/"}, report.Download.Skipped)
	assert.Equal(t, []string{"images/a.png"}, report.Download.Downloaded)
	assert.Equal(t, []string{"images/", "images/a.png"}, report.Delete.Deleted)
	assert.Equal(t, []string{"a.png"}, f.localNames(t))
}

func TestRunUnusableKeyFailsPass(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "images/..", "weird")

	report := f.run(t, Options{DeleteAfter: true})

	assert.False(t, report.OK())
	require.Len(t, report.Download.Failed, 1)
	assert.ErrorIs(t, report.Download.Failed[0], localfs.ErrInvalidName)
	assert.Empty(t, f.store.Deleted)
}

func TestRunDownloadsBackslashKey(t *testing.T) {
	if filepath.Separator == '\\' {
		t.Skip("backslash is a path separator on this platform")
	}

	f := newFixture(t)
	f.store.Put(bucket, `in/win\report.csv`, "r")
	f.store.Put(bucket, "in/z.csv", "z")

	report := f.run(t, Options{Prefix: "in/", DeleteAfter: true})

	require.True(t, report.OK())
	assert.Equal(t, []string{`in/win\report.csv`, "in/z.csv"}, report.Download.Downloaded)
	assert.Empty(t, report.Download.Aborted)
	assert.Equal(t, "r", f.readLocal(t, `win\report.csv`))
	assert.ElementsMatch(t, []string{`win\report.csv`, "z.csv"}, f.localNames(t))
	assert.Empty(t, f.store.Keys(bucket))
}

func TestRunDownloadsLongFileName(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("a", 250) + ".png"
	f.store.Put(bucket, "images/"+long, "L")
	f.store.Put(bucket, "images/z.png", "Z")

	report := f.run(t, Options{Prefix: "images/"})

	require.True(t, report.OK())
	assert.Empty(t, report.Download.Aborted)
	assert.Equal(t, "L", f.readLocal(t, long))
	assert.ElementsMatch(t, []string{long, "z.png"}, f.localNames(t))
}

func TestRunReportsDeleteFailures(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "a", "A")
	f.store.Put(bucket, "b", "B")
	f.store.Put(bucket, "c", "C")
	f.store.DeleteErrs["b"] = storage.ErrAccessDenied

	report := f.run(t, Options{DeleteAfter: true})

	assert.False(t, report.OK())
	assert.True(t, report.Download.OK())
	require.NotNil(t, report.Delete)
	assert.Equal(t, []string{"a", "c"}, report.Delete.Deleted)
	require.Len(t, report.Delete.Failed, 1)
	assert.Equal(t, "b", report.Delete.Failed[0].Key)
	assert.ErrorIs(t, report.Delete.Failed[0], storage.ErrAccessDenied)
	assert.Equal(t, []string{"b"}, f.store.Keys(bucket))
}

func TestRunTreatsMissingObjectAsDeleted(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "a", "A")
	f.store.DeleteErrs["a"] = fmt.Errorf("%w: a", storage.ErrObjectNotFound)

	report := f.run(t, Options{DeleteAfter: true})

	assert.True(t, report.OK())
	assert.Equal(t, []string{"a"}, report.Delete.Deleted)
}

func TestRunParallelDownloads(t *testing.T) {
	f := newFixture(t)
	var want []string
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("batch/file-%02d.bin", i)
		f.store.Put(bucket, key, strings.Repeat("x", i))
		want = append(want, key)
	}

	report := f.run(t, Options{Prefix: "batch/", Workers: 5, DeleteAfter: true})

	require.True(t, report.OK())
	assert.Equal(t, want, report.Download.Downloaded)
	assert.Len(t, f.localNames(t), 20)
	assert.Empty(t, f.store.Keys(bucket))
}

func TestRunParallelFailureStillGatesDelete(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.store.Put(bucket, fmt.Sprintf("k%d", i), "v")
	}
	f.store.DownloadErrs["k3"] = errors.New("timeout")

	report := f.run(t, Options{Workers: 3, DeleteAfter: true})

	assert.False(t, report.OK())
	assert.Nil(t, report.Delete)
	assert.Empty(t, f.store.Deleted)
	assert.Len(t, f.store.Keys(bucket), 10)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "a", "A")

	s, err := New(f.store, f.dir, Options{Bucket: bucket, DeleteAfter: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, report.OK())
	assert.Empty(t, f.store.Deleted)
}

func TestNewValidates(t *testing.T) {
	f := newFixture(t)

	_, err := New(nil, f.dir, Options{Bucket: bucket}, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(f.store, nil, Options{Bucket: bucket}, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(f.store, f.dir, Options{}, zerolog.Nop())
	assert.Error(t, err)

	s, err := New(f.store, f.dir, Options{Bucket: bucket, Workers: -2}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, s.opts.Workers)
}
