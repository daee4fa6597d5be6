package memo

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Persisted key layout.
const (
	KeyMemos = "memos"

	legacyMemoPrefix     = "memo_"
	legacyEditedPrefix   = "lastEdited_"
	legacyPositionPrefix = "position_"
)

// Format tells whether legacy per-origin keys are still present.
type Format string

const (
	FormatStandard Format = "standard"
	FormatMixed    Format = "mixed"
)

// Reconciliation is the unified view of a raw key space.
type Reconciliation struct {
	Memos map[string]Record

	// Synthesized lists origins built from legacy memo_ keys, sorted.
	Synthesized []string

	// Conflicts lists origins present in both shapes; the unified entry won.
	Conflicts []string

	Format Format

	// Positions holds every position_<origin> key as stored.
	Positions map[string]json.RawMessage
}

// LegacyKeys returns the per-origin keys older versions wrote for origin.
func LegacyKeys(origin string) []string {
	return []string{
		legacyMemoPrefix + origin,
		legacyEditedPrefix + origin,
		legacyPositionPrefix + origin,
	}
}

// Reconcile folds legacy per-origin keys into the unified memos map.
//
// Entries of the "memos" key always win over memo_<origin> keys for the
// same origin, including their visibility and position. Reconcile never
// touches storage and returns the same result for the same input and now,
// so running it over its own persisted output changes nothing.
//
// Unreadable entries are skipped and reported in the returned error; the
// Reconciliation is still usable.
func Reconcile(raw map[string]json.RawMessage, now time.Time) (*Reconciliation, error) {
	now = stamp(now)
	r := &Reconciliation{
		Memos:     make(map[string]Record),
		Format:    FormatStandard,
		Positions: make(map[string]json.RawMessage),
	}
	var errs []error

	if memos, ok := raw[KeyMemos]; ok && !isNull(memos) {
		entries, err := decodeEntries(memos)
		if err != nil {
			errs = append(errs, err)
		}
		for origin, rec := range entries {
			r.Memos[origin] = rec
		}
	}

	var legacy []string
	for key, value := range raw {
		if strings.HasPrefix(key, legacyPositionPrefix) {
			r.Positions[key] = value
			continue
		}
		origin, ok := strings.CutPrefix(key, legacyMemoPrefix)
		if !ok {
			continue
		}
		r.Format = FormatMixed
		if origin != "" {
			legacy = append(legacy, origin)
		}
	}
	sort.Strings(legacy)

	for _, origin := range legacy {
		if _, exists := r.Memos[origin]; exists {
			r.Conflicts = append(r.Conflicts, origin)
			slog.Debug("memo: legacy entry shadowed by unified record", "origin", origin)
			continue
		}
		rec, err := synthesize(origin, raw, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.Memos[origin] = rec
		r.Synthesized = append(r.Synthesized, origin)
	}

	for origin, rec := range r.Memos {
		r.Memos[origin] = Normalize(origin, rec, now)
	}
	return r, errors.Join(errs...)
}

// decodeEntries decodes a memos map entry by entry. A value that is not an
// object yields an error and no entries; an unreadable entry is skipped.
func decodeEntries(raw json.RawMessage) (map[string]Record, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyMemos, err)
	}
	out := make(map[string]Record, len(entries))
	var errs []error
	for origin, entry := range entries {
		if origin == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal(entry, &rec); err != nil {
			errs = append(errs, fmt.Errorf("decode memo %q: %w", origin, err))
			continue
		}
		out[origin] = rec
	}
	return out, errors.Join(errs...)
}

// synthesize builds a record from memo_<origin> and its companion keys.
func synthesize(origin string, raw map[string]json.RawMessage, now time.Time) (Record, error) {
	var content string
	if err := json.Unmarshal(raw[legacyMemoPrefix+origin], &content); err != nil {
		return Record{}, fmt.Errorf("decode legacy memo %q: %w", origin, err)
	}
	updated := parseTime(raw[legacyEditedPrefix+origin])
	if updated.IsZero() {
		updated = now
	}
	return Record{
		Origin:    origin,
		Content:   content,
		IsVisible: true,
		Position:  parsePosition(raw[legacyPositionPrefix+origin]),
		CreatedAt: updated,
		UpdatedAt: updated,
	}, nil
}

// Normalize sets Origin and fills missing timestamps from each other or now.
func Normalize(origin string, rec Record, now time.Time) Record {
	rec.Origin = origin
	switch {
	case rec.UpdatedAt.IsZero() && rec.CreatedAt.IsZero():
		rec.CreatedAt, rec.UpdatedAt = now, now
	case rec.UpdatedAt.IsZero():
		rec.UpdatedAt = rec.CreatedAt
	case rec.CreatedAt.IsZero():
		rec.CreatedAt = rec.UpdatedAt
	}
	rec.CreatedAt = stamp(rec.CreatedAt)
	rec.UpdatedAt = stamp(rec.UpdatedAt)
	return rec
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || strings.TrimSpace(string(raw)) == "null"
}
