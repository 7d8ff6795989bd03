package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/vrsandeep/mediaflow/internal/models"
)

// RecordOutcome appends a terminal job outcome to the history table.
func (s *Store) RecordOutcome(o models.JobOutcome) (int64, error) {
	res, err := s.db.Exec(`
        INSERT INTO history (job_id, kind, locator, title, thumbnail, artifact_path, size_bytes, duration_ms,
            quality, format, source_tag, status, error_kind, error_message, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.JobID, o.Kind, o.Locator, o.Title, o.Thumbnail, strings.Join(o.ArtifactPaths, "\n"), o.SizeBytes,
		o.Duration.Milliseconds(), o.Quality, o.Format, o.SourceTag, o.Status, o.ErrorKind, o.ErrorMessage, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to record outcome for job %s: %w", o.JobID, err)
	}
	return res.LastInsertId()
}

// UpdateSummary attaches a free-form summary to a history entry.
func (s *Store) UpdateSummary(id int64, summary string) error {
	result, err := s.db.Exec("UPDATE history SET summary = ? WHERE id = ?", summary, id)
	if err != nil {
		return err
	}
	return expectRow(result, "history entry", id)
}

// GetHistory returns entries newest first. An empty status matches all.
func (s *Store) GetHistory(status string, limit, offset int) ([]*models.HistoryEntry, error) {
	query := `
        SELECT id, job_id, kind, locator, title, thumbnail, artifact_path, size_bytes, duration_ms,
            quality, format, source_tag, status, error_kind, error_message, summary, created_at
        FROM history`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var artifacts string
		var durationMs int64
		o := &e.Outcome
		if err := rows.Scan(&e.ID, &o.JobID, &o.Kind, &o.Locator, &o.Title, &o.Thumbnail, &artifacts, &o.SizeBytes, &durationMs,
			&o.Quality, &o.Format, &o.SourceTag, &o.Status, &o.ErrorKind, &o.ErrorMessage, &e.Summary, &e.CreatedAt); err != nil {
			return nil, err
		}
		if artifacts != "" {
			o.ArtifactPaths = strings.Split(artifacts, "\n")
		}
		o.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PruneHistory deletes entries created before cutoff and reports how many
// were removed.
func (s *Store) PruneHistory(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
