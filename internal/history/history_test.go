package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, "traffic", base, map[string]any{"speed": 40.0}))
	require.NoError(t, s.Append(ctx, "traffic", base.Add(10*time.Second), map[string]any{"speed": 20.0}))
	require.NoError(t, s.Append(ctx, "health", base, map[string]any{"icu": 3.0}))

	entries, err := s.List(ctx, "traffic", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 20.0, entries[0].Data["speed"], "newest first")
	assert.Equal(t, 40.0, entries[1].Data["speed"])
	assert.Equal(t, base.Add(10*time.Second), entries[0].At)
	assert.Equal(t, "traffic", entries[0].Panel)
}

func TestListLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, "p", base.Add(time.Duration(i)*time.Second), map[string]any{"i": float64(i)}))
	}

	entries, err := s.List(ctx, "p", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 4.0, entries[0].Data["i"])
	assert.Equal(t, 3.0, entries[1].Data["i"])

	entries, err = s.List(ctx, "p", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5, "zero limit falls back to the default")
}

func TestListUnknownPanel(t *testing.T) {
	s := openTestStore(t)

	entries, err := s.List(context.Background(), "missing", 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestAppendRejectsEmptyPanel(t *testing.T) {
	s := openTestStore(t)

	err := s.Append(context.Background(), "", time.Now(), map[string]any{})
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Append(ctx, "p", base.Add(time.Duration(i)*time.Second), map[string]any{"i": float64(i)}))
	}
	require.NoError(t, s.Append(ctx, "other", base, map[string]any{}))

	n, err := s.Prune(ctx, "p", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	entries, err := s.List(ctx, "p", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3.0, entries[0].Data["i"])

	other, err := s.List(ctx, "other", 10)
	require.NoError(t, err)
	assert.Len(t, other, 1, "other panels untouched")

	_, err = s.Prune(ctx, "p", -1)
	assert.Error(t, err)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "citizen", time.Now(), map[string]any{"count": 2.0}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.List(ctx, "citizen", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2.0, entries[0].Data["count"])
}

func TestInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(context.Background(), "p", time.Now(), map[string]any{"a": "b"}))
	entries, err := s.List(context.Background(), "p", 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
