package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T, path string) (*FileStore, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	f := NewFile(path)
	f.logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	return f, &buf
}

func TestFileStore_LoadMissing(t *testing.T) {
	f, _ := newTestFileStore(t, filepath.Join(t.TempDir(), "nope.json"))
	set := f.Load(context.Background())
	require.NotNil(t, set)
	assert.Equal(t, 0, set.Len())
}

func TestFileStore_LoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"processed_ids": [`), 0o644))

	f, logs := newTestFileStore(t, path)
	set := f.Load(context.Background())
	assert.Equal(t, 0, set.Len())
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "malformed state file")
}

func TestFileStore_LoadWrongShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"processed_ids": "abc"}`), 0o644))

	f, logs := newTestFileStore(t, path)
	assert.Equal(t, 0, f.Load(context.Background()).Len())
	assert.Contains(t, logs.String(), "level=WARN")
}

func TestFileStore_LoadLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	legacy := `{
  "processed_ids": ["id-1", "id-2"],
  "updated": "2024-02-29T23:59:01.123456",
  "total_processed": 2
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	f, _ := newTestFileStore(t, path)
	set := f.Load(context.Background())
	assert.Equal(t, []string{"id-1", "id-2"}, set.IDs())
	assert.Equal(t, 2024, set.Updated().Year())
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f, _ := newTestFileStore(t, path)
	ctx := context.Background()

	in := NewProcessedSet("b", "a", "c")
	require.NoError(t, f.Save(ctx, in))

	out := f.Load(ctx)
	assert.Equal(t, in.IDs(), out.IDs())
	assert.True(t, out.Updated().Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestFileStore_FileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f, _ := newTestFileStore(t, path)
	require.NoError(t, f.Save(context.Background(), NewProcessedSet("x", "y")))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, []any{"x", "y"}, raw["processed_ids"])
	assert.Equal(t, float64(2), raw["total_processed"])
	assert.Equal(t, "2024-03-01T10:00:00Z", raw["updated"])
}

func TestFileStore_SaveOfLoadIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	f, _ := newTestFileStore(t, path)
	ctx := context.Background()
	require.NoError(t, f.Save(ctx, NewProcessedSet("a", "b")))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	f.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, f.Save(ctx, f.Load(ctx)))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	var a, b stateFile
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	assert.Equal(t, a.ProcessedIDs, b.ProcessedIDs)
	assert.Equal(t, a.TotalProcessed, b.TotalProcessed)
	assert.NotEqual(t, a.Updated, b.Updated)
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f, _ := newTestFileStore(t, filepath.Join(dir, "state.json"))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.Save(context.Background(), NewProcessedSet("a")))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStore_SaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "state.json")
	f, _ := newTestFileStore(t, path)
	require.NoError(t, f.Save(context.Background(), NewProcessedSet("a")))
	assert.FileExists(t, path)
}

func TestFileStore_SaveFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "state.json")
	f, _ := newTestFileStore(t, good)
	require.NoError(t, f.Save(context.Background(), NewProcessedSet("kept")))

	// parent of the target is a regular file, so the write cannot happen
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	bad, _ := newTestFileStore(t, filepath.Join(blocker, "state.json"))
	err := bad.Save(context.Background(), NewProcessedSet("lost"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersist))

	b, err := os.ReadFile(good)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "kept"))
}
