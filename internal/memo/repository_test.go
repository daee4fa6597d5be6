package memo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sitememo/internal/richtext"
	"github.com/nextlevelbuilder/sitememo/internal/store"
	"github.com/nextlevelbuilder/sitememo/internal/store/storetest"
)

type tickClock struct{ t time.Time }

func (c *tickClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newRepo(t *testing.T) (*Repository, store.Store, *tickClock) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	clk := &tickClock{t: fixedNow}
	return NewRepository(s, WithClock(clk.now)), s, clk
}

func strPtr(s string) *string { return &s }

func seed(t *testing.T, s store.Store, kv map[string]any) {
	t.Helper()
	for k, v := range rawMap(t, kv) {
		require.NoError(t, s.Set(context.Background(), k, v))
	}
}

func TestConcreteScenario(t *testing.T) {
	repo, _, _ := newRepo(t)
	ctx := context.Background()

	saved, err := repo.Save(ctx, "example.com", Patch{Content: strPtr("<b>hi</b>")})
	require.NoError(t, err)
	assert.Equal(t, "<b>hi</b>", saved.Content)

	got, err := repo.Get(ctx, "example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "<b>hi</b>", got.Content)
	assert.True(t, got.IsVisible)
	assert.Nil(t, got.Position)
	assert.True(t, got.CreatedAt.Equal(got.UpdatedAt))

	ok, err := repo.Delete(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = repo.Get(ctx, "example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetPrefersUnified(t *testing.T) {
	repo, s, _ := newRepo(t)
	seed(t, s, map[string]any{
		"memos":      map[string]any{"a.com": map[string]any{"content": "X", "isVisible": false}},
		"memo_a.com": "Y",
	})

	got, err := repo.Get(context.Background(), "a.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "X", got.Content)
	assert.False(t, got.IsVisible)
}

func TestGetLegacyFallbackDoesNotPersist(t *testing.T) {
	repo, s, _ := newRepo(t)
	ctx := context.Background()
	seed(t, s, map[string]any{"memo_old.com": "legacy body"})

	got, err := repo.Get(ctx, "old.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "legacy body", got.Content)

	_, ok, err := s.Get(ctx, KeyMemos)
	require.NoError(t, err)
	assert.False(t, ok, "read must not write the unified map")
}

func TestDeletePurgesLegacyKeys(t *testing.T) {
	repo, s, _ := newRepo(t)
	ctx := context.Background()
	seed(t, s, map[string]any{
		"memos":            map[string]any{"a.com": map[string]any{"content": "X"}, "b.com": map[string]any{"content": "keep"}},
		"memo_a.com":       "Y",
		"lastEdited_a.com": 1700000000000,
		"position_a.com":   map[string]string{"left": "1px", "top": "2px"},
	})

	ok, err := repo.Delete(ctx, "a.com")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Get(ctx, "a.com")
	require.NoError(t, err)
	assert.Nil(t, got)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	for _, k := range LegacyKeys("a.com") {
		assert.NotContains(t, snap, k)
	}
	var memos map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(snap[KeyMemos], &memos))
	assert.NotContains(t, memos, "a.com")
	assert.Contains(t, memos, "b.com")
}

func TestDeleteLegacyOnly(t *testing.T) {
	repo, s, _ := newRepo(t)
	ctx := context.Background()
	seed(t, s, map[string]any{"memo_a.com": "Y", "lastEdited_a.com": 1})

	ok, err := repo.Delete(ctx, "a.com")
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestDeleteMissing(t *testing.T) {
	repo, _, _ := newRepo(t)
	ok, err := repo.Delete(context.Background(), "nobody.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddSelectionAppends(t *testing.T) {
	repo, _, _ := newRepo(t)
	ctx := context.Background()

	_, err := repo.Save(ctx, "a.com", Patch{Content: strPtr("<p>foo</p>")})
	require.NoError(t, err)

	rec, err := repo.AddSelection(ctx, "a.com", "hello", PageInfo{URL: "https://a.com/x", Title: "X"})
	require.NoError(t, err)
	assert.Equal(t, "<p>foo</p>"+richtext.SelectionSeparator+richtext.WrapSelection("hello"), rec.Content)
	assert.Equal(t, "https://a.com/x", rec.URL)

	rec, err = repo.AddSelection(ctx, "a.com", "world", PageInfo{})
	require.NoError(t, err)
	want := "<p>foo</p>" +
		richtext.SelectionSeparator + richtext.WrapSelection("hello") +
		richtext.SelectionSeparator + richtext.WrapSelection("world")
	assert.Equal(t, want, rec.Content)
	assert.Equal(t, "X", rec.Title, "empty page info keeps previous title")
}

func TestAddSelectionCreates(t *testing.T) {
	repo, _, _ := newRepo(t)
	rec, err := repo.AddSelection(context.Background(), "new.com", "quote", PageInfo{})
	require.NoError(t, err)
	assert.Equal(t, richtext.WrapSelection("quote"), rec.Content)
	assert.True(t, rec.IsVisible)

	_, err = repo.AddSelection(context.Background(), "new.com", "   ", PageInfo{})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestSaveMergesPatch(t *testing.T) {
	repo, _, _ := newRepo(t)
	ctx := context.Background()

	first, err := repo.Save(ctx, "a.com", Patch{Content: strPtr("one"), Position: SetPosition(&Position{X: 10, Y: 20})})
	require.NoError(t, err)

	second, err := repo.SetVisibility(ctx, "a.com", false)
	require.NoError(t, err)
	assert.Equal(t, "one", second.Content)
	assert.False(t, second.IsVisible)
	assert.Equal(t, &Position{X: 10, Y: 20}, second.Position)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	third, err := repo.SetPosition(ctx, "a.com", nil)
	require.NoError(t, err)
	assert.Nil(t, third.Position)
	assert.False(t, third.IsVisible)
}

func TestSaveMaterializesLegacy(t *testing.T) {
	repo, s, _ := newRepo(t)
	ctx := context.Background()
	seed(t, s, map[string]any{
		"memo_b.com":       "legacy",
		"lastEdited_b.com": time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
	})

	rec, err := repo.SetVisibility(ctx, "b.com", false)
	require.NoError(t, err)
	assert.Equal(t, "legacy", rec.Content)
	assert.Equal(t, 2023, rec.CreatedAt.Year())

	_, ok, err := s.Get(ctx, "memo_b.com")
	require.NoError(t, err)
	assert.True(t, ok, "save does not purge legacy keys")
}

func TestUpdatesSkipMissingMemo(t *testing.T) {
	repo, s, _ := newRepo(t)
	ctx := context.Background()

	rec, err := repo.SetVisibility(ctx, "nomemo.com", false)
	require.NoError(t, err)
	assert.Nil(t, rec)
	rec, err = repo.SetPosition(ctx, "nomemo.com", &Position{X: 1, Y: 2})
	require.NoError(t, err)
	assert.Nil(t, rec)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestSaveSanitizes(t *testing.T) {
	repo, _, _ := newRepo(t)
	rec, err := repo.Save(context.Background(), "a.com", Patch{Content: strPtr(`<p onclick="x()">hi</p><script>alert(1)</script>`)})
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", rec.Content)
}

func TestSaveKeepsUnreadableNeighbours(t *testing.T) {
	repo, s, _ := newRepo(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, KeyMemos, json.RawMessage(`{"weird.com":"just a string"}`)))

	_, err := repo.Save(ctx, "a.com", Patch{Content: strPtr("x")})
	require.NoError(t, err)

	var memos map[string]json.RawMessage
	_, err = store.GetJSON(ctx, s, KeyMemos, &memos)
	require.NoError(t, err)
	assert.JSONEq(t, `"just a string"`, string(memos["weird.com"]))
}

func TestEmptyOriginRejected(t *testing.T) {
	repo, _, _ := newRepo(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "")
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = repo.Save(ctx, " ", Patch{})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = repo.Delete(ctx, "")
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestStorageErrorPropagates(t *testing.T) {
	flaky := storetest.NewFlaky(store.NewMemoryStore())
	repo := NewRepository(flaky)
	ctx := context.Background()

	flaky.Fail("set")
	_, err := repo.Save(ctx, "a.com", Patch{Content: strPtr("x")})
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))
	assert.True(t, errors.Is(err, storetest.ErrInjected))

	flaky.Heal()
	flaky.Fail("snapshot")
	_, err = repo.List(ctx)
	assert.True(t, store.IsStorageError(err))
}

func TestListMergesLegacy(t *testing.T) {
	repo, s, _ := newRepo(t)
	ctx := context.Background()
	seed(t, s, map[string]any{
		"memos":      map[string]any{"a.com": map[string]any{"content": "X"}},
		"memo_b.com": "Y",
	})

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "Y", all["b.com"].Content)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 2, "list must not write")
}

func TestMigrate(t *testing.T) {
	repo, s, _ := newRepo(t)
	ctx := context.Background()
	seed(t, s, map[string]any{
		"memos":          map[string]any{"a.com": map[string]any{"content": "X", "updatedAt": "2025-01-01T00:00:00Z"}},
		"memo_a.com":     "shadowed",
		"memo_b.com":     "Y",
		"position_b.com": map[string]any{"x": 1, "y": 2},
	})

	dry, err := repo.Migrate(ctx, MigrateOptions{DryRun: true, PurgeLegacy: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.com"}, dry.Synthesized)
	assert.Equal(t, []string{"a.com"}, dry.Conflicts)
	assert.False(t, dry.Written)
	assert.Len(t, dry.Purged, 3)

	before, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, before, 4, "dry run must not write")

	report, err := repo.Migrate(ctx, MigrateOptions{})
	require.NoError(t, err)
	assert.True(t, report.Written)
	assert.Equal(t, FormatMixed, report.Format)

	listed, err := repo.List(ctx)
	require.NoError(t, err)

	again, err := repo.Migrate(ctx, MigrateOptions{})
	require.NoError(t, err)
	assert.False(t, again.Written, "second migration has nothing to do")
	relisted, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, listed, relisted)

	purged, err := repo.Migrate(ctx, MigrateOptions{PurgeLegacy: true})
	require.NoError(t, err)
	assert.Equal(t, FormatMixed, purged.Format)
	after, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyMemos}, keysOf(after))

	final, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, listed, final)
}

func keysOf(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
