package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// stateFile is the on-disk layout shared with earlier releases of the bridge.
type stateFile struct {
	ProcessedIDs   []string `json:"processed_ids"`
	Updated        string   `json:"updated"`
	TotalProcessed int      `json:"total_processed"`
}

// FileStore keeps the processed set in a single JSON file.
type FileStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

func NewFile(path string) *FileStore {
	return &FileStore{
		path:   path,
		logger: slog.Default().With("component", "state", "backend", "file"),
		now:    time.Now,
	}
}

func (f *FileStore) Name() string { return "file:" + f.path }

func (f *FileStore) Load(_ context.Context) *ProcessedSet {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.logger.Info("no state file, starting empty", "path", f.path)
		return NewProcessedSet()
	}
	if err != nil {
		f.logger.Error("read state file, starting empty", "path", f.path, "error", err)
		return NewProcessedSet()
	}
	var st stateFile
	if err := json.Unmarshal(b, &st); err != nil {
		f.logger.Warn("malformed state file, starting empty", "path", f.path, "error", err)
		return NewProcessedSet()
	}
	set := NewProcessedSet(st.ProcessedIDs...)
	set.updated = parseUpdated(st.Updated)
	f.logger.Info("state loaded", "path", f.path, "processed", set.Len())
	return set
}

// Save replaces the file atomically: the new content is written and fsynced
// to a sibling temp file, then renamed over the old one.
func (f *FileStore) Save(_ context.Context, set *ProcessedSet) error {
	now := f.now()
	st := stateFile{
		ProcessedIDs:   set.IDs(),
		Updated:        now.Format(timeLayout),
		TotalProcessed: set.Len(),
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersist, err)
	}
	if err := writeAtomic(f.path, b); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	set.updated = now
	f.logger.Debug("state saved", "path", f.path, "processed", st.TotalProcessed)
	return nil
}

func (f *FileStore) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
