package templates

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sitememo/internal/store"
	"github.com/nextlevelbuilder/sitememo/internal/store/storetest"
)

func newRepo(t *testing.T) (*Repository, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewRepository(s, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})), s
}

func names(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}

func orders(recs []Record) map[string]int {
	out := make(map[string]int, len(recs))
	for _, r := range recs {
		out[r.Name] = *r.Order
	}
	return out
}

func TestSaveAssignsOrder(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	for _, n := range []string{"A", "B", "C"} {
		_, err := repo.Save(ctx, n, "body "+n)
		require.NoError(t, err)
	}
	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, names(list))
	assert.Equal(t, map[string]int{"A": 0, "B": 1, "C": 2}, orders(list))
}

func TestSaveUpdateKeepsOrderAndCreatedAt(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	first, err := repo.Save(ctx, "A", "v1")
	require.NoError(t, err)
	_, err = repo.Save(ctx, "B", "x")
	require.NoError(t, err)

	updated, err := repo.Save(ctx, "A", "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Content)
	assert.Equal(t, 0, *updated.Order)
	assert.True(t, updated.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, updated.UpdatedAt.After(first.UpdatedAt))
}

func TestReorderPartial(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	for _, n := range []string{"A", "B", "C"} {
		_, err := repo.Save(ctx, n, n)
		require.NoError(t, err)
	}

	out, err := repo.Reorder(ctx, []string{"C", "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, names(out))
	assert.Equal(t, map[string]int{"C": 0, "A": 1, "B": 2}, orders(out))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, out, list)
}

func TestReorderIgnoresUnknownAndDuplicates(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	for _, n := range []string{"A", "B"} {
		_, err := repo.Save(ctx, n, n)
		require.NoError(t, err)
	}
	out, err := repo.Reorder(ctx, []string{"B", "ghost", "B"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"B": 0, "A": 1}, orders(out))
}

func TestListMissingOrderSortsLast(t *testing.T) {
	repo, s := newRepo(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, Key, json.RawMessage(`{
		"late":  {"content":"l","createdAt":"2020-01-02T00:00:00Z"},
		"early": {"content":"e","createdAt":"2020-01-01T00:00:00Z"},
		"first": {"content":"f","order":0,"createdAt":"2024-01-01T00:00:00Z"}
	}`)))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "early", "late"}, names(list))

	rec, err := repo.Save(ctx, "new", "n")
	require.NoError(t, err)
	assert.Equal(t, 1, *rec.Order)

	out, err := repo.Reorder(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"first": 0, "new": 1, "early": 2, "late": 3}, orders(out))
}

func TestDelete(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	_, err := repo.Save(ctx, "A", "a")
	require.NoError(t, err)

	ok, err := repo.Delete(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Delete(ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, "A")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestValidation(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	_, err := repo.Save(ctx, "  ", "x")
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = repo.Save(ctx, "A", "")
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = repo.Get(ctx, "")
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestStorageFailure(t *testing.T) {
	flaky := storetest.NewFlaky(store.NewMemoryStore())
	repo := NewRepository(flaky)
	flaky.Fail("get")

	_, err := repo.List(context.Background())
	assert.True(t, store.IsStorageError(err))
}
