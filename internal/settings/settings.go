// Package settings holds global toggles persisted next to the memos.
package settings

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/sitememo/internal/store"
)

// KeySelectionEnabled toggles the "add selection to memo" feature.
const KeySelectionEnabled = "selectionFeatureEnabled"

// Service reads and writes settings keys.
type Service struct {
	store store.Store
}

func New(s store.Store) *Service {
	return &Service{store: s}
}

// SelectionEnabled reports whether selection capture is on. Absent or
// unreadable values mean enabled.
func (s *Service) SelectionEnabled(ctx context.Context) (bool, error) {
	raw, ok, err := s.store.Get(ctx, KeySelectionEnabled)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	var enabled bool
	if err := json.Unmarshal(raw, &enabled); err != nil {
		slog.Warn("settings: unreadable value, using default", "key", KeySelectionEnabled, "error", err)
		return true, nil
	}
	return enabled, nil
}

// SetSelectionEnabled persists the toggle.
func (s *Service) SetSelectionEnabled(ctx context.Context, enabled bool) error {
	return store.SetJSON(ctx, s.store, KeySelectionEnabled, enabled)
}
