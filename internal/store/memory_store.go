package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

var errClosed = errors.New("store closed")

// MemoryStore is a process-local Store. Values are copied on the way in and
// out so callers never share backing arrays with the map.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]json.RawMessage
	watchers map[int]chan Change
	nextID   int
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]json.RawMessage),
		watchers: make(map[int]chan Change),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, Wrap("get", key, errClosed)
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return cloneRaw(v), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return Wrap("set", key, errors.New("value is not valid JSON"))
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Wrap("set", key, errClosed)
	}
	m.data[key] = cloneRaw(value)
	m.mu.Unlock()

	m.notify([]string{key})
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Wrap("remove", keys[0], errClosed)
	}
	var removed []string
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			removed = append(removed, k)
		}
	}
	m.mu.Unlock()

	if len(removed) > 0 {
		m.notify(removed)
	}
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, Wrap("snapshot", "", errClosed)
	}
	out := make(map[string]json.RawMessage, len(m.data))
	for k, v := range m.data {
		out[k] = cloneRaw(v)
	}
	return out, nil
}

// Watch reports every write made through this instance.
func (m *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, Wrap("watch", "", errClosed)
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Change, 16)
	m.watchers[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if w, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(w)
		}
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, ch := range m.watchers {
		delete(m.watchers, id)
		close(ch)
	}
	return nil
}

func (m *MemoryStore) notify(keys []string) {
	sort.Strings(keys)
	change := Change{Keys: keys, At: time.Now()}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.watchers {
		select {
		case ch <- change:
		default: // slow watcher, drop
		}
	}
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
