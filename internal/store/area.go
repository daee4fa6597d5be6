package store

import (
	"context"
	"encoding/json"
	"strings"
)

// Storage areas, mirroring the browser's local and sync storage.
const (
	AreaLocal = "local"
	AreaSync  = "sync"
)

const areaSep = ":"

// WithArea namespaces every key of s under area. An empty area returns s.
// Snapshot only returns keys of the area, with the prefix stripped.
func WithArea(s Store, area string) Store {
	if area == "" {
		return s
	}
	return &areaStore{inner: s, prefix: area + areaSep}
}

type areaStore struct {
	inner  Store
	prefix string
}

func (a *areaStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	return a.inner.Get(ctx, a.prefix+key)
}

func (a *areaStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	return a.inner.Set(ctx, a.prefix+key, value)
}

func (a *areaStore) Remove(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = a.prefix + k
	}
	return a.inner.Remove(ctx, prefixed...)
}

func (a *areaStore) Snapshot(ctx context.Context) (map[string]json.RawMessage, error) {
	all, err := a.inner.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage)
	for k, v := range all {
		if rest, ok := strings.CutPrefix(k, a.prefix); ok {
			out[rest] = v
		}
	}
	return out, nil
}

func (a *areaStore) Close() error { return a.inner.Close() }

// Watch forwards the inner backend's changes that belong to this area.
func (a *areaStore) Watch(ctx context.Context) (<-chan Change, error) {
	w, ok := a.inner.(Watchable)
	if !ok {
		return nil, nil
	}
	in, err := w.Watch(ctx)
	if err != nil || in == nil {
		return nil, err
	}
	out := make(chan Change, 16)
	go func() {
		defer close(out)
		for ch := range in {
			var keys []string
			for _, k := range ch.Keys {
				if rest, ok := strings.CutPrefix(k, a.prefix); ok {
					keys = append(keys, rest)
				}
			}
			if len(keys) == 0 {
				continue
			}
			select {
			case out <- Change{Keys: keys, At: ch.At}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
