package models

import "time"

// FollowedSource is a durable subscription to a channel, playlist or feed that
// is polled for new items.
type FollowedSource struct {
	ID             int64         `json:"id"`
	Locator        string        `json:"locator"`
	Name           string        `json:"name"`
	Thumbnail      string        `json:"thumbnail,omitempty"`
	FolderPath     *string       `json:"folder_path,omitempty"` // Nullable, relative to the download dir
	Interval       time.Duration `json:"interval"`
	LastSeenItemID string        `json:"last_seen_item_id,omitempty"` // Watermark, newest item recorded
	LastCheckedAt  *time.Time    `json:"last_checked_at,omitempty"`
	AutoDownload   bool          `json:"auto_download"`
	Quality        string        `json:"quality,omitempty"`
	Format         string        `json:"format,omitempty"`
	Filter         SourceFilter  `json:"filter"`
	CreatedAt      time.Time     `json:"created_at"`
}

// SourceFilter holds the predicates applied to discovered items before they
// count as new. Zero values disable the corresponding check.
type SourceFilter struct {
	MinDuration time.Duration `json:"min_duration"`
	MaxDuration time.Duration `json:"max_duration"`
	Include     []string      `json:"include,omitempty"`
	Exclude     []string      `json:"exclude,omitempty"`
	MaxItems    int           `json:"max_items"`
}

// Due reports whether enough time has passed since the last check.
func (s *FollowedSource) Due(now time.Time) bool {
	if s.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*s.LastCheckedAt) >= s.Interval
}

// DiscoveredItem is one candidate result of an incremental fetch.
type DiscoveredItem struct {
	SourceID     int64         `json:"source_id"`
	ItemID       string        `json:"item_id"`
	Title        string        `json:"title"`
	Locator      string        `json:"locator"`
	Thumbnail    string        `json:"thumbnail,omitempty"`
	Duration     time.Duration `json:"duration"`
	PublishedAt  *time.Time    `json:"published_at,omitempty"`
	DiscoveredAt time.Time     `json:"discovered_at"`
}
