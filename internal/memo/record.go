// Package memo stores one rich-text note per origin (page hostname).
//
// Records live in the unified "memos" map. Older installs kept one key per
// origin (memo_<origin>, lastEdited_<origin>, position_<origin>); those are
// folded in on read by Reconcile and purged only on delete or an explicit
// migration.
package memo

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Position is the widget's top-left corner in CSS pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Record is one memo. A nil Position means the default anchor.
type Record struct {
	Origin               string    `json:"origin"`
	Content              string    `json:"content"`
	IsVisible            bool      `json:"isVisible"`
	Position             *Position `json:"position"`
	FloatingIconPosition *Position `json:"floatingIconPosition"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
	URL                  string    `json:"url,omitempty"`
	Title                string    `json:"title,omitempty"`
}

// PageInfo carries the informational fields captured with a selection.
type PageInfo struct {
	URL   string
	Title string
}

var errNotObject = errors.New("memo entry is not an object")

// recordWire accepts every shape seen in stored data: missing fields,
// epoch-millis lastEdited and CSS-style positions.
type recordWire struct {
	Origin               string          `json:"origin"`
	Content              json.RawMessage `json:"content"`
	IsVisible            *bool           `json:"isVisible"`
	Position             json.RawMessage `json:"position"`
	FloatingIconPosition json.RawMessage `json:"floatingIconPosition"`
	CreatedAt            json.RawMessage `json:"createdAt"`
	UpdatedAt            json.RawMessage `json:"updatedAt"`
	LastEdited           json.RawMessage `json:"lastEdited"`
	URL                  string          `json:"url"`
	Title                string          `json:"title"`
}

// UnmarshalJSON decodes a record leniently. Timestamps that cannot be read
// are left zero; Reconcile fills them in.
func (r *Record) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return errNotObject
	}
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*r = Record{
		Origin:               w.Origin,
		Content:              contentString(w.Content),
		IsVisible:            w.IsVisible == nil || *w.IsVisible,
		Position:             parsePosition(w.Position),
		FloatingIconPosition: parsePosition(w.FloatingIconPosition),
		URL:                  w.URL,
		Title:                w.Title,
	}

	updated := parseTime(w.UpdatedAt)
	if updated.IsZero() {
		updated = parseTime(w.LastEdited)
	}
	created := parseTime(w.CreatedAt)
	if created.IsZero() {
		created = updated
	}
	r.CreatedAt, r.UpdatedAt = created, updated
	return nil
}

func contentString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// stamp normalizes a time to what survives a JSON round trip.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// parseTime reads an RFC 3339 string, epoch millis as a number, or epoch
// millis as a numeric string. Anything else yields the zero time.
func parseTime(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return stamp(t)
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			return stamp(time.UnixMilli(ms))
		}
		return time.Time{}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || f <= 0 || math.IsInf(f, 0) {
		return time.Time{}
	}
	return stamp(time.UnixMilli(int64(f)))
}

// parsePosition reads {x, y} or the CSS form {left:"120px", top:"40px"}.
// Null, "auto" and unreadable values mean the default anchor.
func parsePosition(raw json.RawMessage) *Position {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	if x, okX := cssNumber(m["x"]); okX {
		if y, okY := cssNumber(m["y"]); okY {
			return &Position{X: x, Y: y}
		}
	}
	left, okL := cssNumber(m["left"])
	top, okT := cssNumber(m["top"])
	if okL && okT {
		return &Position{X: left, Y: top}
	}
	return nil
}

func cssNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// OptionalPosition distinguishes an absent patch field from an explicit null.
type OptionalPosition struct {
	Set   bool
	Value *Position
}

// SetPosition returns an OptionalPosition that writes p (nil resets).
func SetPosition(p *Position) OptionalPosition {
	return OptionalPosition{Set: true, Value: p}
}

func (o *OptionalPosition) UnmarshalJSON(data []byte) error {
	o.Set = true
	o.Value = parsePosition(data)
	return nil
}

func (o OptionalPosition) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value)
}

// IsZero lets encoding/json omit an unset field.
func (o OptionalPosition) IsZero() bool { return !o.Set }

// Patch holds the fields a save changes. Nil and unset fields are left alone.
type Patch struct {
	Content              *string          `json:"content,omitempty"`
	IsVisible            *bool            `json:"isVisible,omitempty"`
	Position             OptionalPosition `json:"position,omitzero"`
	FloatingIconPosition OptionalPosition `json:"floatingIconPosition,omitzero"`
	URL                  *string          `json:"url,omitempty"`
	Title                *string          `json:"title,omitempty"`
}

func (p Patch) apply(r *Record) {
	if p.Content != nil {
		r.Content = *p.Content
	}
	if p.IsVisible != nil {
		r.IsVisible = *p.IsVisible
	}
	if p.Position.Set {
		r.Position = clonePosition(p.Position.Value)
	}
	if p.FloatingIconPosition.Set {
		r.FloatingIconPosition = clonePosition(p.FloatingIconPosition.Value)
	}
	if p.URL != nil {
		r.URL = *p.URL
	}
	if p.Title != nil {
		r.Title = *p.Title
	}
}

func clonePosition(p *Position) *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
