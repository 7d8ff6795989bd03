package models

import "time"

// HistoryEntry is a persisted job outcome plus any annotations added later.
type HistoryEntry struct {
	ID        int64      `json:"id"`
	Outcome   JobOutcome `json:"outcome"`
	Summary   string     `json:"summary,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
