package models

// ProgressUpdate is the latest known state of a job. Consumers replace their
// previous snapshot with it; it is never a delta.
type ProgressUpdate struct {
	JobID      string    `json:"job_id"`
	Percent    float64   `json:"percent"`
	Speed      string    `json:"speed,omitempty"`
	ETA        string    `json:"eta,omitempty"`
	Status     JobStatus `json:"status"`
	Title      string    `json:"title,omitempty"`
	ItemIndex  int       `json:"item_index,omitempty"`
	ItemCount  int       `json:"item_count,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	Resolution string    `json:"resolution,omitempty"`
	Format     string    `json:"format,omitempty"`
	Message    string    `json:"message,omitempty"`
}
