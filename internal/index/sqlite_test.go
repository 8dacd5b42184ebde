package index

import (
	"context"
	"path/filepath"
	"testing"

	"qmp/internal/entry"
	"qmp/internal/keywords"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func indexedEntry(date, title, poet string, kws ...keywords.Keyword) entry.Entry {
	return entry.Entry{
		Date:        date,
		Month:       date[:7],
		File:        "data/textos/" + date + ".txt",
		MyPoemTitle: title,
		Analysis:    entry.Analysis{Poet: poet},
		Keywords:    kws,
	}
}

func TestRebuildAndSearch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := []entry.Entry{
		indexedEntry("2025-01-01", "uno", "Pizarnik",
			keywords.Keyword{Word: "mar", Weight: 2},
			keywords.Keyword{Word: "noche", Weight: 1}),
		indexedEntry("2025-01-02", "dos", "Vallejo",
			keywords.Keyword{Word: "Mar", Weight: 3}),
	}
	require.NoError(t, s.Rebuild(ctx, entries))

	hits, err := s.Search(ctx, "mar")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	// Heaviest first, then newest.
	assert.Equal(t, "2025-01-02", hits[0].Date)
	assert.Equal(t, 3, hits[0].Weight)
	assert.Equal(t, "dos", hits[0].MyPoemTitle)
	assert.Equal(t, "2025-01-01", hits[1].Date)
}

func TestSearch_NormalizesQueryWord(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Rebuild(ctx, []entry.Entry{
		indexedEntry("2025-01-01", "uno", "X",
			keywords.Keyword{Word: "Melancolía", Weight: 2}),
	}))

	hits, err := s.Search(ctx, "  MELANCOLÍA. ")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "melancolia", hits[0].Word)
}

func TestSearch_EmptyWord(t *testing.T) {
	s := testStore(t)
	_, err := s.Search(context.Background(), "   ")
	assert.Error(t, err)
}

func TestRebuild_ReplacesSnapshot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Rebuild(ctx, []entry.Entry{
		indexedEntry("2025-01-01", "uno", "X", keywords.Keyword{Word: "mar", Weight: 2}),
	}))
	require.NoError(t, s.Rebuild(ctx, []entry.Entry{
		indexedEntry("2025-01-02", "dos", "Y", keywords.Keyword{Word: "noche", Weight: 1}),
	}))

	hits, err := s.Search(ctx, "mar")
	require.NoError(t, err)
	assert.Empty(t, hits, "old snapshot rows must be gone")

	hits, err = s.Search(ctx, "noche")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "2025-01-02", hits[0].Date)
}

func TestTopKeywords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Rebuild(ctx, []entry.Entry{
		indexedEntry("2025-01-01", "uno", "X",
			keywords.Keyword{Word: "mar", Weight: 2},
			keywords.Keyword{Word: "noche", Weight: 3}),
		indexedEntry("2025-01-02", "dos", "Y",
			keywords.Keyword{Word: "mar", Weight: 1}),
	}))

	top, err := s.TopKeywords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "mar", top[0].Word)
	assert.Equal(t, 2, top[0].Entries)
	assert.Equal(t, 3, top[0].TotalWeight)
}
