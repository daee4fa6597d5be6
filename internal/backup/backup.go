// Package backup exports the memo and template store to a single JSON
// document and imports such documents back.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/sitememo/internal/memo"
	"github.com/nextlevelbuilder/sitememo/internal/store"
	"github.com/nextlevelbuilder/sitememo/internal/templates"
)

// Version is written to meta.version.
const Version = "1.3"

const positionPrefix = "position_"

// Document is the export file. Import writes only the sections present.
type Document struct {
	Memos     map[string]memo.Record      `json:"memos,omitzero"`
	Templates map[string]templates.Record `json:"templates,omitzero"`
	Positions map[string]json.RawMessage  `json:"positions,omitzero"`
	Meta      *Meta                       `json:"meta,omitempty"`
}

// Meta describes when and from what an export was produced.
type Meta struct {
	ExportDate time.Time   `json:"exportDate"`
	Version    string      `json:"version"`
	DataFormat memo.Format `json:"dataFormat"`
}

// Summary counts the sections of a document.
type Summary struct {
	Memos     int `json:"memos"`
	Templates int `json:"templates"`
	Positions int `json:"positions"`
}

// Summarize counts what Import would write.
func Summarize(doc *Document) Summary {
	return Summary{
		Memos:     len(doc.Memos),
		Templates: len(doc.Templates),
		Positions: len(doc.Positions),
	}
}

// Empty reports whether the document holds no data at all.
func (s Summary) Empty() bool {
	return s.Memos == 0 && s.Templates == 0 && s.Positions == 0
}

// Service runs exports and imports against the memo (local) and template
// stores.
type Service struct {
	local     store.Store
	memos     *memo.Repository
	templates *templates.Repository
	now       func() time.Time
}

func NewService(local store.Store, memos *memo.Repository, tmpl *templates.Repository) *Service {
	return &Service{local: local, memos: memos, templates: tmpl, now: time.Now}
}

// Export combines the unified memos, unmigrated legacy memos and all
// templates. Unified entries take precedence over legacy ones.
func (s *Service) Export(ctx context.Context) (*Document, error) {
	rc, err := s.memos.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("export memos: %w", err)
	}
	tmpl, err := s.templates.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("export templates: %w", err)
	}
	return &Document{
		Memos:     rc.Memos,
		Templates: tmpl,
		Positions: rc.Positions,
		Meta: &Meta{
			ExportDate: s.now().UTC().Truncate(time.Millisecond),
			Version:    Version,
			DataFormat: rc.Format,
		},
	}, nil
}

// Import overwrites the memos map, the template map and the position keys
// present in doc. Legacy memo_ keys are left in place; Reconcile hides them
// behind the imported unified entries.
func (s *Service) Import(ctx context.Context, doc *Document) (Summary, error) {
	now := s.now()
	sum := Summarize(doc)

	if doc.Memos != nil {
		memos := make(map[string]memo.Record, len(doc.Memos))
		for origin, rec := range doc.Memos {
			if strings.TrimSpace(origin) == "" {
				continue
			}
			memos[origin] = memo.Normalize(origin, rec, now)
		}
		if err := store.SetJSON(ctx, s.local, memo.KeyMemos, memos); err != nil {
			return Summary{}, fmt.Errorf("import memos: %w", err)
		}
	}
	if doc.Templates != nil {
		if err := s.templates.Replace(ctx, doc.Templates); err != nil {
			return Summary{}, fmt.Errorf("import templates: %w", err)
		}
	}
	for key, value := range doc.Positions {
		if !strings.HasPrefix(key, positionPrefix) {
			continue
		}
		if err := s.local.Set(ctx, key, value); err != nil {
			return Summary{}, fmt.Errorf("import positions: %w", err)
		}
	}

	slog.Info("backup imported", "memos", sum.Memos, "templates", sum.Templates, "positions", sum.Positions)
	return sum, nil
}

// FileName returns the conventional backup file name for t.
func FileName(t time.Time) string {
	return "sitememo_backup_" + t.Format("2006-01-02") + ".json"
}
