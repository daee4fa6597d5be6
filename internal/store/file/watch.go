package file

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/sitememo/internal/store"
)

// watchDebounce collapses the write+rename pair of one commit into one change.
const watchDebounce = 100 * time.Millisecond

// baseline is the document one watcher last reported against.
type baseline struct {
	last map[string]json.RawMessage
}

// Watch reports keys changed in the file by other writers. The parent
// directory is watched because commits replace the file through rename.
// Each call diffs against its own baseline, so concurrent watchers on one
// Store all see every change.
func (s *Store) Watch(ctx context.Context) (<-chan store.Change, error) {
	b, err := s.addWatch()
	if err != nil {
		return nil, store.Wrap("watch", "", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.dropWatch(b)
		return nil, store.Wrap("watch", "", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		s.dropWatch(b)
		return nil, store.Wrap("watch", "", err)
	}

	out := make(chan store.Change, 16)
	go s.watchLoop(ctx, w, b, out)
	slog.Info("file store watcher started", "path", s.path)
	return out, nil
}

func (s *Store) addWatch() (*baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.load()
	if err != nil {
		return nil, err
	}
	b := &baseline{last: current}
	if s.watches == nil {
		s.watches = make(map[*baseline]struct{})
	}
	s.watches[b] = struct{}{}
	return b, nil
}

func (s *Store) dropWatch(b *baseline) {
	s.mu.Lock()
	delete(s.watches, b)
	s.mu.Unlock()
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher, b *baseline, out chan<- store.Change) {
	defer close(out)
	defer s.dropWatch(b)
	defer w.Close()

	target := filepath.Clean(s.path)
	fire := make(chan struct{}, 1)
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			keys := s.diff(b)
			if len(keys) == 0 {
				continue
			}
			select {
			case out <- store.Change{Keys: keys, At: time.Now()}:
			case <-ctx.Done():
				return
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Error("file store watcher error", "path", s.path, "error", err)
		}
	}
}

// diff reloads the file and returns keys whose value differs from b, then
// advances b.
func (s *Store) diff(b *baseline) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		slog.Warn("file store reload failed", "path", s.path, "error", err)
		return nil
	}

	var changed []string
	for k, v := range current {
		if old, ok := b.last[k]; !ok || !bytes.Equal(old, v) {
			changed = append(changed, k)
		}
	}
	for k := range b.last {
		if _, ok := current[k]; !ok {
			changed = append(changed, k)
		}
	}
	b.last = current
	sort.Strings(changed)
	return changed
}

var _ store.Watchable = (*Store)(nil)
