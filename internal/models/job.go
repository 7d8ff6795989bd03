package models

import "time"

type JobKind string

const (
	JobKindDownload  JobKind = "download"
	JobKindTranscode JobKind = "transcode"
)

// JobStatus is the lifecycle state of a job. Finished, failed and cancelled
// are terminal.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusFinished  JobStatus = "finished"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true once no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed || s == JobStatusCancelled
}

type SubtitleMode string

const (
	SubtitlesNone     SubtitleMode = "none"
	SubtitlesEmbed    SubtitleMode = "embed"
	SubtitlesSeparate SubtitleMode = "separate"
	SubtitlesAuto     SubtitleMode = "auto"
)

// JobRequest describes one acquisition or transcoding task. It is created by
// the caller and never mutated afterwards.
type JobRequest struct {
	ID             string        `json:"id"`
	Kind           JobKind       `json:"kind"`
	Locator        string        `json:"locator"` // URL for downloads, input path for transcodes
	Title          string        `json:"title,omitempty"`
	Quality        string        `json:"quality,omitempty"` // "best", "audio" or a max height like "720"
	Format         string        `json:"format,omitempty"`  // container or audio format
	Codec          string        `json:"codec,omitempty"`
	Subtitles      SubtitleMode  `json:"subtitles,omitempty"`
	SubtitleLangs  []string      `json:"subtitle_langs,omitempty"`
	Playlist       bool          `json:"playlist,omitempty"`
	PlaylistStart  int           `json:"playlist_start,omitempty"`
	PlaylistEnd    int           `json:"playlist_end,omitempty"`
	OutputDir      string        `json:"output_dir,omitempty"`
	OutputTemplate string        `json:"output_template,omitempty"`
	Output         string        `json:"output,omitempty"` // transcode output path
	DurationHint   time.Duration `json:"duration_hint,omitempty"`
	SourceTag      string        `json:"source_tag,omitempty"`
}

// JobOutcome is the terminal record of a job. The controller hands it to the
// history store and keeps no reference to it.
type JobOutcome struct {
	JobID         string        `json:"job_id"`
	Kind          JobKind       `json:"kind"`
	Locator       string        `json:"locator"`
	Title         string        `json:"title,omitempty"`
	Thumbnail     string        `json:"thumbnail,omitempty"`
	Status        JobStatus     `json:"status"`
	ArtifactPaths []string      `json:"artifact_paths,omitempty"`
	SizeBytes     int64         `json:"size_bytes"`
	Duration      time.Duration `json:"duration"`
	Quality       string        `json:"quality,omitempty"`
	Format        string        `json:"format,omitempty"`
	SourceTag     string        `json:"source_tag,omitempty"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// ArtifactPath returns the primary artifact, or "" when the tool did not
// report one.
func (o JobOutcome) ArtifactPath() string {
	if len(o.ArtifactPaths) == 0 {
		return ""
	}
	return o.ArtifactPaths[0]
}
