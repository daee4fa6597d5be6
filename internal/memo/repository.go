package memo

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sitememo/internal/richtext"
	"github.com/nextlevelbuilder/sitememo/internal/store"
)

// Repository is the memo API used by the dispatcher and the CLI.
//
// Every mutation is one read and one write of the whole memos map. The
// mutex orders this instance's mutations; other instances and processes
// sharing the store can still overwrite each other (last writer wins).
type Repository struct {
	store   store.Store
	unified UnifiedSource
	legacy  LegacySource
	now     func() time.Time
	logger  *slog.Logger

	mu sync.Mutex
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// NewRepository builds a repository over s.
func NewRepository(s store.Store, opts ...Option) *Repository {
	r := &Repository{
		store:   s,
		unified: UnifiedSource{store: s},
		legacy:  LegacySource{store: s},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Repository) clock() time.Time { return stamp(r.now()) }

// Get returns the memo for origin, falling back to legacy keys without
// persisting them. It returns nil when no memo exists.
func (r *Repository) Get(ctx context.Context, origin string) (*Record, error) {
	if err := store.ValidateOrigin(origin); err != nil {
		return nil, err
	}
	now := r.clock()
	m, err := r.unified.load(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok, err := m.record(origin, now)
	if err != nil {
		r.logger.Warn("memo: unreadable entry, trying legacy keys", "origin", origin, "error", err)
	}
	if ok {
		return &rec, nil
	}
	return r.legacy.Lookup(ctx, origin, now)
}

// Save merges patch into the memo for origin, creating it if needed.
// Content is sanitized; empty content is stored as given.
func (r *Repository) Save(ctx context.Context, origin string, patch Patch) (*Record, error) {
	if err := store.ValidateOrigin(origin); err != nil {
		return nil, err
	}
	if patch.Content != nil {
		clean := richtext.Sanitize(*patch.Content)
		patch.Content = &clean
	}
	return r.mutate(ctx, origin, true, func(rec *Record) error {
		patch.apply(rec)
		return nil
	})
}

// AddSelection appends a quoted selection to the memo for origin, or creates
// a memo holding just the quote.
func (r *Repository) AddSelection(ctx context.Context, origin, text string, page PageInfo) (*Record, error) {
	if err := store.ValidateOrigin(origin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, store.InvalidArgument("selection text is required")
	}
	return r.mutate(ctx, origin, true, func(rec *Record) error {
		rec.Content = richtext.AppendSelection(rec.Content, text)
		if page.URL != "" {
			rec.URL = page.URL
		}
		if page.Title != "" {
			rec.Title = page.Title
		}
		return nil
	})
}

// SetVisibility persists isVisible for origin. It returns nil without
// writing when no memo exists.
func (r *Repository) SetVisibility(ctx context.Context, origin string, visible bool) (*Record, error) {
	return r.update(ctx, origin, Patch{IsVisible: &visible})
}

// SetPosition persists the widget position for origin; nil resets it. It
// returns nil without writing when no memo exists.
func (r *Repository) SetPosition(ctx context.Context, origin string, p *Position) (*Record, error) {
	return r.update(ctx, origin, Patch{Position: SetPosition(p)})
}

func (r *Repository) update(ctx context.Context, origin string, patch Patch) (*Record, error) {
	if err := store.ValidateOrigin(origin); err != nil {
		return nil, err
	}
	return r.mutate(ctx, origin, false, func(rec *Record) error {
		patch.apply(rec)
		return nil
	})
}

// mutate applies fn to the memo for origin and writes it back. Without
// create, a missing memo yields nil and nothing is written.
func (r *Repository) mutate(ctx context.Context, origin string, create bool, fn func(*Record) error) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	m, err := r.unified.load(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok, err := m.record(origin, now)
	if err != nil {
		r.logger.Warn("memo: replacing unreadable entry", "origin", origin, "error", err)
	}
	if !ok {
		legacy, err := r.legacy.Lookup(ctx, origin, now)
		if err != nil {
			return nil, err
		}
		switch {
		case legacy != nil:
			rec = *legacy
		case !create:
			return nil, nil
		default:
			rec = Record{Origin: origin, IsVisible: true, CreatedAt: now}
		}
	}

	if err := fn(&rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = now

	if err := m.put(rec); err != nil {
		return nil, err
	}
	if err := r.unified.save(ctx, m); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes the memo for origin from both shapes. It reports false
// when neither shape held a memo.
func (r *Repository) Delete(ctx context.Context, origin string) (bool, error) {
	if err := store.ValidateOrigin(origin); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.unified.load(ctx)
	if err != nil {
		return false, err
	}
	_, inUnified := m[origin]
	_, inLegacy, err := r.store.Get(ctx, legacyMemoPrefix+origin)
	if err != nil {
		return false, err
	}
	if !inUnified && !inLegacy {
		return false, nil
	}

	if inUnified {
		delete(m, origin)
		if err := r.unified.save(ctx, m); err != nil {
			return false, err
		}
	}
	if err := r.legacy.Purge(ctx, origin); err != nil {
		return false, err
	}
	r.logger.Debug("memo deleted", "origin", origin, "unified", inUnified, "legacy", inLegacy)
	return true, nil
}

// List returns every memo, with unmigrated legacy entries merged in.
// Storage is not modified.
func (r *Repository) List(ctx context.Context) (map[string]Record, error) {
	rc, err := r.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	return rc.Memos, nil
}

// Reconcile snapshots the store and reconciles it. Unreadable entries are
// logged and skipped.
func (r *Repository) Reconcile(ctx context.Context) (*Reconciliation, error) {
	snap, err := r.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := Reconcile(snap, r.clock())
	if err != nil {
		r.logger.Warn("memo: skipped unreadable entries", "error", err)
	}
	return rc, nil
}

// MigrateOptions controls Migrate.
type MigrateOptions struct {
	// PurgeLegacy removes memo_, lastEdited_ and position_ keys after writing.
	PurgeLegacy bool
	// DryRun reports what would change without writing.
	DryRun bool
}

// MigrationReport summarizes a migration run.
type MigrationReport struct {
	Total       int      `json:"total"`
	Synthesized []string `json:"synthesized"`
	Conflicts   []string `json:"conflicts"`
	Format      Format   `json:"dataFormat"`
	Purged      []string `json:"purged,omitempty"`
	Written     bool     `json:"written"`
}

// Migrate persists legacy memos into the unified map. Existing unified
// entries are kept byte for byte, so running it again is a no-op.
func (r *Repository) Migrate(ctx context.Context, opts MigrateOptions) (*MigrationReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rc, rerr := Reconcile(snap, r.clock())
	if rerr != nil {
		r.logger.Warn("memo: skipped unreadable entries", "error", rerr)
	}

	report := &MigrationReport{
		Total:       len(rc.Memos),
		Synthesized: rc.Synthesized,
		Conflicts:   rc.Conflicts,
		Format:      rc.Format,
	}
	if opts.PurgeLegacy {
		report.Purged = legacyKeysIn(snap)
		sort.Strings(report.Purged)
	}
	if opts.DryRun {
		return report, nil
	}

	if len(rc.Synthesized) > 0 {
		m, err := r.unified.load(ctx)
		if err != nil {
			return nil, err
		}
		for _, origin := range rc.Synthesized {
			if err := m.put(rc.Memos[origin]); err != nil {
				return nil, err
			}
		}
		if err := r.unified.save(ctx, m); err != nil {
			return nil, err
		}
		report.Written = true
	}
	if len(report.Purged) > 0 {
		if err := r.store.Remove(ctx, report.Purged...); err != nil {
			return nil, err
		}
	}
	r.logger.Info("memo migration",
		"total", report.Total,
		"synthesized", len(report.Synthesized),
		"conflicts", len(report.Conflicts),
		"purged", len(report.Purged))
	return report, nil
}
