package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the key-value adapter every repository is built on.
// Each call is atomic on its own; there is no cross-call transaction, so a
// Get followed by a Set can race with another writer.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value json.RawMessage, ok bool, err error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value json.RawMessage) error

	// Remove deletes the given keys. Missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error

	// Snapshot returns the full key space.
	Snapshot(ctx context.Context) (map[string]json.RawMessage, error)

	Close() error
}

// Change describes keys written by someone other than the watcher's owner
// (another process, another tab's gateway, a manual edit).
type Change struct {
	Keys []string  `json:"keys"`
	At   time.Time `json:"at"`
}

// Watchable is implemented by backends that can observe external writes.
// The returned channel is closed when ctx is cancelled.
type Watchable interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// StoreConfig configures the store layer.
type StoreConfig struct {
	// DSN selects the backend by scheme: memory://, file://, sqlite://, postgres://, redis://.
	DSN string

	// Area namespaces keys inside the backend ("local" or "sync").
	Area string

	// Table is the SQL table name for sqlite/postgres backends (default "kv_items").
	Table string

	// RedisPrefix is the hash key prefix for the redis backend (default "sitememo").
	RedisPrefix string
}
