// Package storetest holds a conformance suite every store backend runs,
// plus a fault-injecting wrapper for repository tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sitememo/internal/store"
)

// Run exercises the store.Store contract against a fresh backend from newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("get_missing", func(t *testing.T) {
		s := newStore(t)
		v, ok, err := s.Get(context.Background(), "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("set_get_overwrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "memos", json.RawMessage(`{"a.com":{"content":"x"}}`)))
		require.NoError(t, s.Set(ctx, "memos", json.RawMessage(`{"b.com":{"content":"y"}}`)))

		v, ok, err := s.Get(ctx, "memos")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"b.com":{"content":"y"}}`, string(v))
	})

	t.Run("remove_many", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, k := range []string{"memo_a.com", "lastEdited_a.com", "position_a.com", "keep"} {
			require.NoError(t, s.Set(ctx, k, json.RawMessage(`"v"`)))
		}
		require.NoError(t, s.Remove(ctx, "memo_a.com", "lastEdited_a.com", "position_a.com", "never-set"))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Len(t, snap, 1)
		assert.Contains(t, snap, "keep")
	})

	t.Run("snapshot_values", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "selectionFeatureEnabled", json.RawMessage(`false`)))
		require.NoError(t, s.Set(ctx, "lastEdited_x.org", json.RawMessage(`1700000000000`)))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `false`, string(snap["selectionFeatureEnabled"]))
		assert.JSONEq(t, `1700000000000`, string(snap["lastEdited_x.org"]))
	})

	t.Run("area_isolation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		local := store.WithArea(s, store.AreaLocal)
		syncArea := store.WithArea(s, store.AreaSync)

		require.NoError(t, local.Set(ctx, "memos", json.RawMessage(`{"l":1}`)))
		require.NoError(t, syncArea.Set(ctx, "memos", json.RawMessage(`{"s":1}`)))

		v, ok, err := local.Get(ctx, "memos")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"l":1}`, string(v))

		snap, err := syncArea.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"memos"}, keys(snap))
	})
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// ErrInjected is the error Flaky returns for failing operations.
var ErrInjected = errors.New("injected failure")

// Flaky wraps a store and fails the operations named in Fail with a
// StorageError. Safe for concurrent use.
type Flaky struct {
	store.Store

	mu   sync.Mutex
	fail map[string]bool
}

// NewFlaky wraps inner.
func NewFlaky(inner store.Store) *Flaky {
	return &Flaky{Store: inner, fail: make(map[string]bool)}
}

// Fail makes op ("get", "set", "remove", "snapshot") fail until Heal.
func (f *Flaky) Fail(op string) {
	f.mu.Lock()
	f.fail[op] = true
	f.mu.Unlock()
}

// Heal clears all injected failures.
func (f *Flaky) Heal() {
	f.mu.Lock()
	f.fail = make(map[string]bool)
	f.mu.Unlock()
}

func (f *Flaky) failing(op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[op]
}

func (f *Flaky) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if f.failing("get") {
		return nil, false, store.Wrap("get", key, ErrInjected)
	}
	return f.Store.Get(ctx, key)
}

func (f *Flaky) Set(ctx context.Context, key string, value json.RawMessage) error {
	if f.failing("set") {
		return store.Wrap("set", key, ErrInjected)
	}
	return f.Store.Set(ctx, key, value)
}

func (f *Flaky) Remove(ctx context.Context, keys ...string) error {
	if f.failing("remove") {
		return store.Wrap("remove", "", ErrInjected)
	}
	return f.Store.Remove(ctx, keys...)
}

func (f *Flaky) Snapshot(ctx context.Context) (map[string]json.RawMessage, error) {
	if f.failing("snapshot") {
		return nil, store.Wrap("snapshot", "", ErrInjected)
	}
	return f.Store.Snapshot(ctx)
}
