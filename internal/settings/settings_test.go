package settings

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nextlevelbuilder/sitememo/internal/store"
)

func TestSelectionEnabled(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"absent", "", true},
		{"true", "true", true},
		{"false", "false", false},
		{"garbage", `"yes"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			if tt.raw != "" {
				if err := s.Set(ctx, KeySelectionEnabled, json.RawMessage(tt.raw)); err != nil {
					t.Fatal(err)
				}
			}
			got, err := New(s).SelectionEnabled(ctx)
			if err != nil {
				t.Fatalf("SelectionEnabled: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetSelectionEnabled(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemoryStore())
	if err := svc.SetSelectionEnabled(ctx, false); err != nil {
		t.Fatal(err)
	}
	if on, _ := svc.SelectionEnabled(ctx); on {
		t.Error("expected disabled after SetSelectionEnabled(false)")
	}
}
