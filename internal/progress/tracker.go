package progress

import (
	"time"

	"github.com/vrsandeep/mediaflow/internal/models"
)

// Tracker folds partial updates into the running state of one job. It is not
// safe for concurrent use; the job's stdout pump owns it.
type Tracker struct {
	title       string
	structTitle bool

	percent    float64
	speed      string
	eta        string
	itemIndex  int
	itemCount  int
	duration   time.Duration
	sawMotion  bool
	resolution string
	format     string

	// Stream-boundary accounting: a reported total that differs from the
	// current one starts a new stream and commits the previous total.
	streamTotal int64
	committed   int64
	downloaded  int64

	// paths holds output paths in order. Paths from itemStart on belong to
	// the item currently being transferred.
	paths     []string
	itemStart int
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// SetTitle records a title from structured metadata. It takes precedence over
// titles recovered from output paths.
func (t *Tracker) SetTitle(title string) {
	if title == "" {
		return
	}
	t.title = title
	t.structTitle = true
}

// SetDuration gives the tracker the media length so transcoder time offsets
// can be turned into a percentage.
func (t *Tracker) SetDuration(d time.Duration) {
	t.duration = d
}

// SetLabels sets the resolution and format labels carried by snapshots.
func (t *Tracker) SetLabels(resolution, format string) {
	t.resolution = resolution
	t.format = format
}

// Apply folds p into the running state.
func (t *Tracker) Apply(p Partial) {
	if p.ItemIndex > 0 && p.ItemIndex != t.itemIndex {
		if t.itemIndex > 0 {
			t.closeItem()
			// A new playlist item restarts the percentage.
			t.percent = 0
			t.eta = ""
		}
		t.itemIndex = p.ItemIndex
	}
	if p.ItemCount > 0 {
		t.itemCount = p.ItemCount
	}

	if p.HasPercent && p.Percent >= t.percent {
		t.percent = p.Percent
	}
	if p.HasOutTime {
		if t.duration > 0 {
			pct := clamp(float64(p.OutTime) / float64(t.duration) * 100)
			if pct >= t.percent {
				t.percent = pct
			}
			remaining := t.duration - p.OutTime
			if remaining > 0 {
				t.eta = remaining.Truncate(time.Second).String()
			}
		}
	}
	if p.Speed != "" {
		t.speed = p.Speed
	}
	if p.ETA != "" {
		t.eta = p.ETA
	}
	if p.Progressing() {
		t.sawMotion = true
	}

	if p.TotalBytes > 0 {
		if t.streamTotal > 0 && p.TotalBytes != t.streamTotal {
			t.committed += t.streamTotal
		}
		t.streamTotal = p.TotalBytes
	}
	if p.DownloadedBytes > t.downloaded {
		t.downloaded = p.DownloadedBytes
	}

	if p.Destination != "" {
		t.paths = append(t.paths, p.Destination)
		t.titleFrom(p.Destination)
	}
	if p.FinalPath != "" {
		t.paths = append(t.paths[:t.itemStart], p.FinalPath)
		t.titleFrom(p.FinalPath)
	}
	if p.Done {
		t.eta = ""
	}
}

func (t *Tracker) titleFrom(path string) {
	if t.structTitle {
		return
	}
	if title := TitleFromPath(path); title != "" {
		t.title = title
	}
}

// closeItem keeps only the last path of the finished item.
func (t *Tracker) closeItem() {
	if len(t.paths) > t.itemStart {
		last := t.paths[len(t.paths)-1]
		t.paths = append(t.paths[:t.itemStart], last)
	}
	t.itemStart = len(t.paths)
}

// Title returns the best known human title.
func (t *Tracker) Title() string {
	return t.title
}

// SawProgress reports whether any line showed data moving.
func (t *Tracker) SawProgress() bool {
	return t.sawMotion
}

// FinalSize is the committed size of finished streams plus the current one.
// Byte-counter totals are used when no stream size was ever reported.
func (t *Tracker) FinalSize() int64 {
	if total := t.committed + t.streamTotal; total > 0 {
		return total
	}
	return t.downloaded
}

// ArtifactPaths returns one output path per item, the last path each item
// reported. The slice is a copy.
func (t *Tracker) ArtifactPaths() []string {
	out := make([]string, 0, t.itemStart+1)
	out = append(out, t.paths[:t.itemStart]...)
	if len(t.paths) > t.itemStart {
		out = append(out, t.paths[len(t.paths)-1])
	}
	return out
}

// Snapshot renders the current state as a progress update.
func (t *Tracker) Snapshot(jobID string, status models.JobStatus) models.ProgressUpdate {
	return models.ProgressUpdate{
		JobID:      jobID,
		Percent:    t.percent,
		Speed:      t.speed,
		ETA:        t.eta,
		Status:     status,
		Title:      t.title,
		ItemIndex:  t.itemIndex,
		ItemCount:  t.itemCount,
		SizeBytes:  t.FinalSize(),
		Resolution: t.resolution,
		Format:     t.format,
	}
}
