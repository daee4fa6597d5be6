// Package file implements store.Store on a single JSON document on disk.
// The file is the source of truth: every read loads it, every write is a
// read-modify-write of the whole document committed through tmp+rename, so
// several processes (gateway, CLI) can share it.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/sitememo/internal/store"
)

// Store is a whole-document JSON file store.
type Store struct {
	path string

	mu      sync.Mutex
	watches map[*baseline]struct{} // one per active Watch, guarded by mu
}

// New opens (or prepares to create) the store file at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, store.Wrap("open", "", fmt.Errorf("create dir %s: %w", dir, err))
	}
	s := &Store{path: path}
	data, err := s.load()
	if err != nil {
		return nil, store.Wrap("open", "", err)
	}
	slog.Info("file store opened", "path", path, "keys", len(data))
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	data, err := s.load()
	if err != nil {
		return nil, false, store.Wrap("get", key, err)
	}
	v, ok := data[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return store.Wrap("set", key, errors.New("value is not valid JSON"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return store.Wrap("set", key, err)
	}
	data[key] = value
	return store.Wrap("set", key, s.saveLocked(data))
}

func (s *Store) Remove(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return store.Wrap("remove", keys[0], err)
	}
	changed := false
	for _, k := range keys {
		if _, ok := data[k]; ok {
			delete(data, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return store.Wrap("remove", keys[0], s.saveLocked(data))
}

func (s *Store) Snapshot(_ context.Context) (map[string]json.RawMessage, error) {
	data, err := s.load()
	if err != nil {
		return nil, store.Wrap("snapshot", "", err)
	}
	return data, nil
}

func (s *Store) Close() error { return nil }

// load reads the whole document. A missing or empty file is an empty store.
func (s *Store) load() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return make(map[string]json.RawMessage), nil
	}
	data := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return data, nil
}

func (s *Store) saveLocked(data map[string]json.RawMessage) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if err := writeFileAtomic(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	// Advance every watcher past the document as a reader will see it so
	// our own write is not reported.
	if len(s.watches) > 0 {
		var written map[string]json.RawMessage
		if err := json.Unmarshal(raw, &written); err == nil {
			for b := range s.watches {
				b.last = written
			}
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
