// Verify all followed-source database functions.

package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/testutil"
)

func newSource(locator string) *models.FollowedSource {
	return &models.FollowedSource{
		Locator:  locator,
		Name:     "Channel " + locator,
		Interval: 30 * time.Minute,
		Filter: models.SourceFilter{
			MinDuration: time.Minute,
			Include:     []string{"review", " tutorial "},
			Exclude:     []string{"shorts"},
			MaxItems:    5,
		},
	}
}

func TestSourceStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := New(db)

	src, err := s.CreateSource(newSource("https://example.com/@a"))
	require.NoError(t, err)
	s.CreateSource(newSource("https://example.com/@b"))

	t.Run("Create round-trips settings", func(t *testing.T) {
		got, err := s.GetSourceByID(src.ID)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Minute, got.Interval)
		assert.Equal(t, time.Minute, got.Filter.MinDuration)
		assert.Equal(t, []string{"review", "tutorial"}, got.Filter.Include)
		assert.Equal(t, []string{"shorts"}, got.Filter.Exclude)
		assert.Nil(t, got.LastCheckedAt)
		assert.Empty(t, got.LastSeenItemID)
	})

	t.Run("Duplicate follow returns existing", func(t *testing.T) {
		dup, err := s.CreateSource(newSource("https://example.com/@a"))
		require.NoError(t, err)
		assert.Equal(t, src.ID, dup.ID)

		all, err := s.GetAllSources()
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("Watermark and check time", func(t *testing.T) {
		require.NoError(t, s.AdvanceWatermark(src.ID, "vid-9"))
		now := time.Now()
		require.NoError(t, s.MarkSourceChecked(src.ID, now))

		got, err := s.GetSourceByID(src.ID)
		require.NoError(t, err)
		assert.Equal(t, "vid-9", got.LastSeenItemID)
		require.NotNil(t, got.LastCheckedAt)
		assert.WithinDuration(t, now, *got.LastCheckedAt, time.Second)
	})

	t.Run("Update keeps watermark", func(t *testing.T) {
		got, _ := s.GetSourceByID(src.ID)
		got.AutoDownload = true
		got.Quality = "720"
		require.NoError(t, s.UpdateSource(got))

		again, _ := s.GetSourceByID(src.ID)
		assert.True(t, again.AutoDownload)
		assert.Equal(t, "720", again.Quality)
		assert.Equal(t, "vid-9", again.LastSeenItemID)
	})

	t.Run("Missing source", func(t *testing.T) {
		_, err := s.GetSourceByID(999)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.ErrorIs(t, s.AdvanceWatermark(999, "x"), ErrNotFound)
		assert.ErrorIs(t, s.DeleteSource(999), ErrNotFound)
	})
}

func TestDiscoveredItems(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := New(db)
	src, err := s.CreateSource(newSource("https://example.com/@c"))
	require.NoError(t, err)

	items := []models.DiscoveredItem{
		{ItemID: "a", Title: "First", Duration: 90 * time.Second},
		{ItemID: "b", Title: "Second"},
	}
	require.NoError(t, s.SaveDiscoveredItems(src.ID, items))
	// Re-saving is a no-op, not an error.
	require.NoError(t, s.SaveDiscoveredItems(src.ID, items[:1]))

	known, err := s.KnownItemIDs(src.ID)
	require.NoError(t, err)
	assert.Len(t, known, 2)
	assert.Contains(t, known, "a")

	stored, err := s.GetDiscoveredItems(src.ID, 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, it := range stored {
		if it.ItemID == "a" {
			assert.Equal(t, 90*time.Second, it.Duration)
		}
	}

	require.NoError(t, s.DeleteSource(src.ID))
	known, err = s.KnownItemIDs(src.ID)
	require.NoError(t, err)
	assert.Empty(t, known)
}
