package downloader_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/downloader"
	"github.com/vrsandeep/mediaflow/internal/job"
	"github.com/vrsandeep/mediaflow/internal/jobs"
	"github.com/vrsandeep/mediaflow/internal/models"
)

// fakeRunner blocks every job until release is closed or the job is cancelled.
type fakeRunner struct {
	mu      sync.Mutex
	started []models.JobRequest
	active  int
	maxSeen int
	release chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{release: make(chan struct{})}
}

func (f *fakeRunner) Run(ctx context.Context, req models.JobRequest, token *job.CancelToken) models.JobOutcome {
	f.mu.Lock()
	f.started = append(f.started, req)
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	select {
	case <-f.release:
		return models.JobOutcome{JobID: req.ID, Status: models.JobStatusFinished, ArtifactPaths: []string{"/tmp/out.mp4"}}
	case <-token.Done():
		return models.JobOutcome{JobID: req.ID, Status: models.JobStatusCancelled, ErrorMessage: "cancelled by user"}
	case <-ctx.Done():
		return models.JobOutcome{JobID: req.ID, Status: models.JobStatusCancelled}
	}
}

func (f *fakeRunner) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.started))
	for _, r := range f.started {
		ids = append(ids, r.ID)
	}
	return ids
}

type recordingSink struct {
	mu      sync.Mutex
	updates []models.ProgressUpdate
}

func (s *recordingSink) Progress(u models.ProgressUpdate) {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
}

func newWorker(t *testing.T, runner downloader.Runner, sink models.ProgressSink) (*downloader.Worker, *jobs.SlotManager) {
	t.Helper()
	slots := jobs.NewSlotManager(nil, jobs.SlotDownload, jobs.SlotTranscode)
	w := downloader.NewWorker(downloader.Options{
		Runner:         runner,
		Slots:          slots,
		Sink:           sink,
		DownloadDir:    "/media/downloads",
		OutputTemplate: "%(title)s.%(ext)s",
		QueueSize:      4,
	})
	return w, slots
}

func TestSubmit_AssignsIDAndDefaults(t *testing.T) {
	w, _ := newWorker(t, newFakeRunner(), nil)

	id, err := w.Submit(models.JobRequest{Locator: "https://example.com/watch?v=1"})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err, "generated ids are uuids")

	queued := w.Queued()
	require.Len(t, queued, 1)
	assert.Equal(t, models.JobKindDownload, queued[0].Kind)
	assert.Equal(t, "/media/downloads", queued[0].OutputDir)
	assert.Equal(t, "%(title)s.%(ext)s", queued[0].OutputTemplate)
}

func TestSubmit_Rejects(t *testing.T) {
	w, _ := newWorker(t, newFakeRunner(), nil)

	_, err := w.Submit(models.JobRequest{})
	assert.Error(t, err)

	_, err = w.Submit(models.JobRequest{Locator: "--exec=rm"})
	assert.ErrorIs(t, err, args.ErrFlagLikeValue)

	_, err = w.Submit(models.JobRequest{Kind: "upload", Locator: "x"})
	assert.Error(t, err)

	for i := 0; i < 4; i++ {
		_, err = w.Submit(models.JobRequest{Locator: "https://example.com/v"})
		require.NoError(t, err)
	}
	_, err = w.Submit(models.JobRequest{Locator: "https://example.com/v"})
	assert.ErrorIs(t, err, downloader.ErrQueueFull)
}

func TestWorker_OneJobPerSlot(t *testing.T) {
	runner := newFakeRunner()
	w, slots := newWorker(t, runner, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	first, err := w.Submit(models.JobRequest{ID: "a", Locator: "https://example.com/a"})
	require.NoError(t, err)
	_, err = w.Submit(models.JobRequest{ID: "b", Locator: "https://example.com/b"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(runner.startedIDs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{first}, runner.startedIDs())
	assert.True(t, slots.Busy(jobs.SlotDownload))

	close(runner.release)
	require.Eventually(t, func() bool { return len(runner.startedIDs()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, runner.startedIDs())

	runner.mu.Lock()
	assert.Equal(t, 1, runner.maxSeen)
	runner.mu.Unlock()
}

func TestWorker_TranscodeUsesItsOwnSlot(t *testing.T) {
	runner := newFakeRunner()
	w, slots := newWorker(t, runner, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	_, err := w.Submit(models.JobRequest{ID: "dl", Locator: "https://example.com/a"})
	require.NoError(t, err)
	_, err = w.Submit(models.JobRequest{ID: "tc", Kind: models.JobKindTranscode, Locator: "/media/in.mkv", Output: "/media/out.mp4"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return slots.Busy(jobs.SlotDownload) && slots.Busy(jobs.SlotTranscode)
	}, 2*time.Second, 10*time.Millisecond)
	close(runner.release)
}

func TestWorker_CancelQueuedJob(t *testing.T) {
	runner := newFakeRunner()
	sink := &recordingSink{}
	w, _ := newWorker(t, runner, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	_, err := w.Submit(models.JobRequest{ID: "running", Locator: "https://example.com/a"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(runner.startedIDs()) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = w.Submit(models.JobRequest{ID: "waiting", Locator: "https://example.com/b"})
	require.NoError(t, err)
	assert.True(t, w.Cancel("waiting"))
	assert.Empty(t, w.Queued())

	sink.mu.Lock()
	require.Len(t, sink.updates, 1)
	assert.Equal(t, models.JobStatusCancelled, sink.updates[0].Status)
	sink.mu.Unlock()

	close(runner.release)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"running"}, runner.startedIDs(), "a cancelled queued job never runs")
}

func TestWorker_CancelRunningJob(t *testing.T) {
	runner := newFakeRunner()
	w, slots := newWorker(t, runner, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	_, err := w.Submit(models.JobRequest{ID: "a", Locator: "https://example.com/a"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return slots.Busy(jobs.SlotDownload) }, 2*time.Second, 10*time.Millisecond)

	assert.True(t, w.Cancel("a"))
	require.Eventually(t, func() bool { return !slots.Busy(jobs.SlotDownload) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.JobStatusCancelled, slots.GetStatus()[0].Status)
	assert.False(t, w.Cancel("unknown"))
}

func TestWorker_PauseAndResume(t *testing.T) {
	runner := newFakeRunner()
	close(runner.release)
	w, _ := newWorker(t, runner, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Pause()
	assert.True(t, w.IsPaused())
	w.Start(ctx)

	_, err := w.Submit(models.JobRequest{ID: "a", Locator: "https://example.com/a"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, runner.startedIDs())

	w.Resume()
	assert.False(t, w.IsPaused())
	require.Eventually(t, func() bool { return len(runner.startedIDs()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_AutoDownload(t *testing.T) {
	w, _ := newWorker(t, newFakeRunner(), nil)
	folder := "Shows/Weekly: Digest"

	w.AutoDownload(models.AutoDownloadEvent{
		SourceID:   7,
		SourceName: "Some Channel",
		Quality:    "720",
		Format:     "mp4",
		FolderPath: &folder,
		Items: []models.DiscoveredItem{
			{ItemID: "v5", Title: "Five", Locator: "https://example.com/v5"},
			{ItemID: "v4", Title: "Four", Locator: "https://example.com/v4"},
		},
	})
	w.AutoDownload(models.AutoDownloadEvent{
		SourceID:   8,
		SourceName: "Other: Channel",
		Items:      []models.DiscoveredItem{{ItemID: "x", Locator: "https://example.com/x"}},
	})

	queued := w.Queued()
	require.Len(t, queued, 3)
	assert.Equal(t, "https://example.com/v5", queued[0].Locator)
	assert.Equal(t, "720", queued[0].Quality)
	assert.Equal(t, "source:7", queued[0].SourceTag)
	assert.Equal(t, filepath.Join("/media/downloads", "Shows", "Weekly- Digest"), queued[0].OutputDir)
	assert.Equal(t, filepath.Join("/media/downloads", "Other- Channel"), queued[2].OutputDir)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal filename",
			input:    "Episode 1 - The Beginning",
			expected: "Episode 1 - The Beginning",
		},
		{
			name:     "filename with invalid characters",
			input:    "Episode 1: The Beginning?",
			expected: "Episode 1- The Beginning-",
		},
		{
			name:     "filename with backslashes and slashes",
			input:    "Episode 1\\The Beginning/Part A",
			expected: "Episode 1-The Beginning-Part A",
		},
		{
			name:     "filename with null bytes",
			input:    "Episode 1\x00The Beginning",
			expected: "Episode 1-The Beginning",
		},
		{
			name:     "filename starting with multiple dots and hyphens",
			input:    "...---Episode 1",
			expected: "Episode 1",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "untitled",
		},
		{
			name:     "only invalid characters",
			input:    "\\/:*?\"<>|",
			expected: "untitled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := downloader.SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
