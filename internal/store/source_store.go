package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vrsandeep/mediaflow/internal/models"
)

const sourceColumns = `id, locator, name, thumbnail, folder_path, interval_minutes, last_seen_item_id,
	last_checked_at, auto_download, quality, format, min_duration, max_duration,
	include_keywords, exclude_keywords, max_items, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*models.FollowedSource, error) {
	var src models.FollowedSource
	var thumbnail, folderPath, lastSeen sql.NullString
	var lastChecked sql.NullTime
	var intervalMinutes, minDur, maxDur int64
	var include, exclude string
	err := row.Scan(&src.ID, &src.Locator, &src.Name, &thumbnail, &folderPath, &intervalMinutes, &lastSeen,
		&lastChecked, &src.AutoDownload, &src.Quality, &src.Format, &minDur, &maxDur,
		&include, &exclude, &src.Filter.MaxItems, &src.CreatedAt)
	if err != nil {
		return nil, err
	}
	src.Thumbnail = thumbnail.String
	if folderPath.Valid {
		src.FolderPath = &folderPath.String
	}
	src.LastSeenItemID = lastSeen.String
	if lastChecked.Valid {
		src.LastCheckedAt = &lastChecked.Time
	}
	src.Interval = time.Duration(intervalMinutes) * time.Minute
	src.Filter.MinDuration = time.Duration(minDur) * time.Second
	src.Filter.MaxDuration = time.Duration(maxDur) * time.Second
	src.Filter.Include = splitKeywords(include)
	src.Filter.Exclude = splitKeywords(exclude)
	return &src, nil
}

// CreateSource adds a followed source. Following a locator twice returns the
// existing row unchanged.
func (s *Store) CreateSource(src *models.FollowedSource) (*models.FollowedSource, error) {
	query := `
        INSERT INTO followed_sources (locator, name, thumbnail, folder_path, interval_minutes, auto_download,
            quality, format, min_duration, max_duration, include_keywords, exclude_keywords, max_items, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(locator) DO NOTHING
        RETURNING ` + sourceColumns
	created, err := scanSource(s.db.QueryRow(query,
		src.Locator, src.Name, src.Thumbnail, src.FolderPath, int64(src.Interval/time.Minute), src.AutoDownload,
		src.Quality, src.Format, int64(src.Filter.MinDuration/time.Second), int64(src.Filter.MaxDuration/time.Second),
		joinKeywords(src.Filter.Include), joinKeywords(src.Filter.Exclude), src.Filter.MaxItems, time.Now(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		// The source already existed, which is not an error.
		return scanSource(s.db.QueryRow("SELECT "+sourceColumns+" FROM followed_sources WHERE locator = ?", src.Locator))
	}
	return created, err
}

// GetAllSources retrieves every followed source in creation order.
func (s *Store) GetAllSources() ([]*models.FollowedSource, error) {
	rows, err := s.db.Query("SELECT " + sourceColumns + " FROM followed_sources ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*models.FollowedSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *Store) GetSourceByID(id int64) (*models.FollowedSource, error) {
	src, err := scanSource(s.db.QueryRow("SELECT "+sourceColumns+" FROM followed_sources WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source with id %d: %w", id, ErrNotFound)
	}
	return src, err
}

// UpdateSource rewrites the user-editable settings of a source. The watermark
// and check time are left alone.
func (s *Store) UpdateSource(src *models.FollowedSource) error {
	result, err := s.db.Exec(`
        UPDATE followed_sources SET name = ?, thumbnail = ?, folder_path = ?, interval_minutes = ?, auto_download = ?,
            quality = ?, format = ?, min_duration = ?, max_duration = ?, include_keywords = ?, exclude_keywords = ?, max_items = ?
        WHERE id = ?`,
		src.Name, src.Thumbnail, src.FolderPath, int64(src.Interval/time.Minute), src.AutoDownload,
		src.Quality, src.Format, int64(src.Filter.MinDuration/time.Second), int64(src.Filter.MaxDuration/time.Second),
		joinKeywords(src.Filter.Include), joinKeywords(src.Filter.Exclude), src.Filter.MaxItems, src.ID)
	if err != nil {
		return err
	}
	return expectRow(result, "source", src.ID)
}

// DeleteSource removes a source and, by cascade, its discovered items.
func (s *Store) DeleteSource(id int64) error {
	result, err := s.db.Exec("DELETE FROM followed_sources WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectRow(result, "source", id)
}

// AdvanceWatermark records itemID as the newest item seen for the source.
func (s *Store) AdvanceWatermark(sourceID int64, itemID string) error {
	result, err := s.db.Exec("UPDATE followed_sources SET last_seen_item_id = ? WHERE id = ?", itemID, sourceID)
	if err != nil {
		return err
	}
	return expectRow(result, "source", sourceID)
}

// MarkSourceChecked sets the last_checked_at timestamp.
func (s *Store) MarkSourceChecked(sourceID int64, at time.Time) error {
	_, err := s.db.Exec("UPDATE followed_sources SET last_checked_at = ? WHERE id = ?", at, sourceID)
	return err
}

// SaveDiscoveredItems records items for a source in a single transaction.
// Items already recorded are ignored.
func (s *Store) SaveDiscoveredItems(sourceID int64, items []models.DiscoveredItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
        INSERT OR IGNORE INTO discovered_items
        (source_id, item_id, title, locator, thumbnail, duration, published_at, discovered_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, it := range items {
		discoveredAt := it.DiscoveredAt
		if discoveredAt.IsZero() {
			discoveredAt = now
		}
		_, err := stmt.Exec(sourceID, it.ItemID, it.Title, it.Locator, it.Thumbnail,
			int64(it.Duration/time.Second), it.PublishedAt, discoveredAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// KnownItemIDs returns the identifiers of every item already recorded for a
// source, so a fetch never reports the same item twice.
func (s *Store) KnownItemIDs(sourceID int64) (map[string]struct{}, error) {
	rows, err := s.db.Query("SELECT item_id FROM discovered_items WHERE source_id = ?", sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = struct{}{}
	}
	return known, rows.Err()
}

// GetDiscoveredItems lists recorded items for a source, newest first.
func (s *Store) GetDiscoveredItems(sourceID int64, limit int) ([]*models.DiscoveredItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
        SELECT source_id, item_id, title, locator, thumbnail, duration, published_at, discovered_at
        FROM discovered_items WHERE source_id = ? ORDER BY discovered_at DESC, id DESC LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.DiscoveredItem
	for rows.Next() {
		var it models.DiscoveredItem
		var seconds int64
		var published sql.NullTime
		if err := rows.Scan(&it.SourceID, &it.ItemID, &it.Title, &it.Locator, &it.Thumbnail, &seconds, &published, &it.DiscoveredAt); err != nil {
			return nil, err
		}
		it.Duration = time.Duration(seconds) * time.Second
		if published.Valid {
			it.PublishedAt = &published.Time
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func expectRow(result sql.Result, what string, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s with id %d: %w", what, id, ErrNotFound)
	}
	return nil
}
