// Package templates stores named, reusable rich-text snippets under the
// "templates" key.
package templates

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sitememo/internal/richtext"
	"github.com/nextlevelbuilder/sitememo/internal/store"
)

// Key is the store key holding the template map.
const Key = "templates"

// Record is one template. A nil Order sorts after every ordered template.
type Record struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Order     *int      `json:"order,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r Record) orderKey() int {
	if r.Order == nil {
		return math.MaxInt
	}
	return *r.Order
}

// Repository is the template API. Every mutation is one read and one
// write of the whole map.
type Repository struct {
	store store.Store
	now   func() time.Time
	mu    sync.Mutex
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository builds a repository over s.
func NewRepository(s store.Store, opts ...Option) *Repository {
	r := &Repository{store: s, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Repository) clock() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

// All returns the template map keyed by name.
func (r *Repository) All(ctx context.Context) (map[string]Record, error) {
	raw, ok, err := r.store.Get(ctx, Key)
	if err != nil {
		return nil, err
	}
	m := make(map[string]Record)
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, store.Wrap("get", Key, err)
	}
	for name, rec := range m {
		rec.Name = name
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		m[name] = rec
	}
	return m, nil
}

func (r *Repository) write(ctx context.Context, m map[string]Record) error {
	return store.SetJSON(ctx, r.store, Key, m)
}

// Get returns the template called name, or nil.
func (r *Repository) Get(ctx context.Context, name string) (*Record, error) {
	if err := store.ValidateTemplateName(name); err != nil {
		return nil, err
	}
	m, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := m[name]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// List returns templates by ascending order, unordered ones last, ties by
// creation time and then name.
func (r *Repository) List(ctx context.Context) ([]Record, error) {
	m, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	return sorted(m), nil
}

func sorted(m map[string]Record) []Record {
	out := make([]Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.orderKey() != b.orderKey() {
			return a.orderKey() < b.orderKey()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Name < b.Name
	})
	return out
}

// Save creates or replaces the template called name. A new template goes
// after the last ordered one; an existing one keeps its order and createdAt.
func (r *Repository) Save(ctx context.Context, name, content string) (*Record, error) {
	if err := store.ValidateTemplateName(name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, store.InvalidArgument("template content is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock()
	rec, exists := m[name]
	if !exists {
		next := 0
		for _, t := range m {
			if t.Order != nil && *t.Order >= next {
				next = *t.Order + 1
			}
		}
		rec = Record{Name: name, Order: &next, CreatedAt: now}
	}
	rec.Content = richtext.Sanitize(content)
	rec.UpdatedAt = now
	m[name] = rec

	if err := r.write(ctx, m); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes the template called name. It reports false if it did not exist.
func (r *Repository) Delete(ctx context.Context, name string) (bool, error) {
	if err := store.ValidateTemplateName(name); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.All(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := m[name]; !ok {
		return false, nil
	}
	delete(m, name)
	return true, r.write(ctx, m)
}

// Reorder puts the named templates first, in the given order, followed by
// the rest in their previous order. Orders are rewritten contiguously from
// 0 in a single write. Unknown and repeated names are ignored.
func (r *Repository) Reorder(ctx context.Context, names []string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(m))
	seq := make([]string, 0, len(m))
	for _, name := range names {
		if _, ok := m[name]; ok && !seen[name] {
			seen[name] = true
			seq = append(seq, name)
		}
	}
	for _, rec := range sorted(m) {
		if !seen[rec.Name] {
			seq = append(seq, rec.Name)
		}
	}

	out := make([]Record, len(seq))
	for i, name := range seq {
		rec := m[name]
		order := i
		rec.Order = &order
		m[name] = rec
		out[i] = rec
	}
	if err := r.write(ctx, m); err != nil {
		return nil, err
	}
	return out, nil
}

// Replace overwrites the whole template map, as an import does.
func (r *Repository) Replace(ctx context.Context, m map[string]Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	out := make(map[string]Record, len(m))
	for name, rec := range m {
		if strings.TrimSpace(name) == "" {
			continue
		}
		rec.Name = name
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		out[name] = rec
	}
	return r.write(ctx, out)
}
