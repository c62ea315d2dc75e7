package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/weftworks/loom/internal/session"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

// FileOptions configures the file-backed store.
type FileOptions struct {
	// Dir is the root directory; one <id>.json per session lives under it.
	Dir string
	// Cache enables a write-through snapshot cache so repeated Gets skip
	// the disk.
	Cache bool
}

// File persists one JSON document per session under a root directory.
// Writes go to a temporary file first and are renamed into place, so a
// crash never leaves a half-written session behind.
type File struct {
	dir   string
	mu    sync.RWMutex
	cache map[string][]byte
}

// NewFile creates the root directory if needed and returns the store.
func NewFile(opts FileOptions) (*File, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("file store: dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, loomerrors.NewStoreError("init", opts.Dir, err)
	}

	f := &File{dir: opts.Dir}
	if opts.Cache {
		f.cache = make(map[string][]byte)
	}
	return f, nil
}

func (f *File) pathFor(id string) string {
	return filepath.Join(f.dir, id+".json")
}

// Get loads a session, serving from the cache when enabled.
func (f *File) Get(_ context.Context, id string) (*session.Session, error) {
	if f.cache != nil {
		f.mu.RLock()
		data, ok := f.cache[id]
		f.mu.RUnlock()
		if ok {
			return decodeSession(id, data)
		}
	}

	data, err := os.ReadFile(f.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, loomerrors.NewSessionNotFoundError(id)
		}
		return nil, loomerrors.NewStoreError("get", id, err)
	}

	if f.cache != nil {
		f.mu.Lock()
		f.cache[id] = data
		f.mu.Unlock()
	}
	return decodeSession(id, data)
}

// Save writes the session to disk (and through the cache when enabled).
func (f *File) Save(_ context.Context, s *session.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return loomerrors.NewStoreError("save", s.ID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Write to a temporary file first, then rename into place.
	path := f.pathFor(s.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return loomerrors.NewStoreError("save", s.ID, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return loomerrors.NewStoreError("save", s.ID, err)
	}

	if f.cache != nil {
		f.cache[s.ID] = data
	}
	return nil
}

// Delete removes the session file and cache entry.
func (f *File) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cache != nil {
		delete(f.cache, id)
	}
	if err := os.Remove(f.pathFor(id)); err != nil {
		if os.IsNotExist(err) {
			return loomerrors.NewSessionNotFoundError(id)
		}
		return loomerrors.NewStoreError("delete", id, err)
	}
	return nil
}

// List scans the root directory for session documents.
func (f *File) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, loomerrors.NewStoreError("list", f.dir, err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if prefix == "" || strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Flush rewrites every cached session to disk. It is a no-op without the
// cache; with it, Flush recovers the on-disk copies after external edits to
// the directory.
func (f *File) Flush(_ context.Context) error {
	if f.cache == nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for id, data := range f.cache {
		path := f.pathFor(id)
		tmpPath := path + ".tmp"
		if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
			return loomerrors.NewStoreError("flush", id, err)
		}
		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return loomerrors.NewStoreError("flush", id, err)
		}
	}
	return nil
}

func decodeSession(id string, data []byte) (*session.Session, error) {
	s := &session.Session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, loomerrors.NewStoreError("decode", id, err)
	}
	return s, nil
}
