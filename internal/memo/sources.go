package memo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/sitememo/internal/store"
)

// entries is the unified map with each record still encoded, so a write
// only re-encodes the entry it changed.
type entries map[string]json.RawMessage

// UnifiedSource reads and writes the "memos" key.
type UnifiedSource struct {
	store store.Store
}

func (u UnifiedSource) load(ctx context.Context) (entries, error) {
	raw, ok, err := u.store.Get(ctx, KeyMemos)
	if err != nil {
		return nil, err
	}
	m := entries{}
	if !ok || isNull(raw) {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, store.Wrap("get", KeyMemos, fmt.Errorf("decode %s: %w", KeyMemos, err))
	}
	return m, nil
}

func (u UnifiedSource) save(ctx context.Context, m entries) error {
	return store.SetJSON(ctx, u.store, KeyMemos, m)
}

// record decodes the entry for origin. ok is false when it is absent or unreadable.
func (m entries) record(origin string, now time.Time) (Record, bool, error) {
	raw, ok := m[origin]
	if !ok || isNull(raw) {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode memo %q: %w", origin, err)
	}
	return Normalize(origin, rec, now), true, nil
}

func (m entries) put(rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode memo %q: %w", rec.Origin, err)
	}
	m[rec.Origin] = raw
	return nil
}

// LegacySource reads the per-origin keys of older versions. It never
// writes them, only removes them.
type LegacySource struct {
	store store.Store
}

// Lookup synthesizes a record from memo_<origin> and its companion keys.
func (l LegacySource) Lookup(ctx context.Context, origin string, now time.Time) (*Record, error) {
	keys := LegacyKeys(origin)
	raw := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		v, ok, err := l.store.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			raw[k] = v
		}
	}
	if _, ok := raw[legacyMemoPrefix+origin]; !ok {
		return nil, nil
	}
	rec, err := synthesize(origin, raw, stamp(now))
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Purge removes every legacy key of origin in one call.
func (l LegacySource) Purge(ctx context.Context, origin string) error {
	return l.store.Remove(ctx, LegacyKeys(origin)...)
}

// legacyKeysIn returns every legacy key present in a snapshot.
func legacyKeysIn(raw map[string]json.RawMessage) []string {
	var keys []string
	for k := range raw {
		if strings.HasPrefix(k, legacyMemoPrefix) ||
			strings.HasPrefix(k, legacyEditedPrefix) ||
			strings.HasPrefix(k, legacyPositionPrefix) {
			keys = append(keys, k)
		}
	}
	return keys
}
