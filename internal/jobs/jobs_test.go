package jobs_test

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mediaflow/internal/config"
	"github.com/vrsandeep/mediaflow/internal/jobs"
	"github.com/vrsandeep/mediaflow/internal/launcher"
	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/store"
	"github.com/vrsandeep/mediaflow/internal/testutil"
)

type stubResolver struct {
	bins map[string]launcher.Binary
}

func (s stubResolver) Resolve(name string) (launcher.Binary, error) {
	b, ok := s.bins[name]
	if !ok {
		return launcher.Binary{}, fmt.Errorf("%s: %w", name, launcher.ErrBinaryNotFound)
	}
	return b, nil
}

func (s stubResolver) PackagedDir() string { return "" }

// fakeJobContext implements jobs.JobContext for testing.
type fakeJobContext struct {
	db       *sql.DB
	cfg      *config.Config
	slots    *jobs.SlotManager
	resolver launcher.BinaryResolver
}

func (f *fakeJobContext) DB() *sql.DB                       { return f.db }
func (f *fakeJobContext) Config() *config.Config            { return f.cfg }
func (f *fakeJobContext) Logger() *slog.Logger              { return slog.Default() }
func (f *fakeJobContext) Slots() *jobs.SlotManager          { return f.slots }
func (f *fakeJobContext) Resolver() launcher.BinaryResolver { return f.resolver }

func newJobContext(t *testing.T, resolver launcher.BinaryResolver) *fakeJobContext {
	t.Helper()
	cfg := &config.Config{}
	cfg.Binaries = config.BinariesConfig{
		Downloader:           "yt-dlp",
		Transcoder:           "ffmpeg",
		Prober:               "ffprobe",
		MinDownloaderVersion: "2023.1.6",
	}
	return &fakeJobContext{
		db:       testutil.SetupTestDB(t),
		cfg:      cfg,
		slots:    jobs.NewSlotManager(nil, jobs.SlotMaintenance),
		resolver: resolver,
	}
}

func writeVersionScript(t *testing.T, dir, name, version string) launcher.Binary {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho "+version+"\n"), 0o755))
	return launcher.Binary{Name: name, Path: path, Packaged: true}
}

func TestPruneHistory(t *testing.T) {
	app := newJobContext(t, stubResolver{})
	st := store.New(app.DB())
	_, err := st.RecordOutcome(models.JobOutcome{JobID: "old", Kind: models.JobKindDownload, Locator: "https://example.com/v", Status: models.JobStatusFinished})
	require.NoError(t, err)

	status, _ := jobs.PruneHistory(app, time.Now().Add(-time.Hour))
	assert.Equal(t, models.JobStatusFinished, status)
	entries, err := st.GetHistory("", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "recent entries survive")

	status, _ = jobs.PruneHistory(app, time.Now().Add(time.Hour))
	assert.Equal(t, models.JobStatusFinished, status)
	entries, err = st.GetHistory("", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReprobeBinaries(t *testing.T) {
	t.Run("all tools present and recent", func(t *testing.T) {
		dir := t.TempDir()
		resolver := stubResolver{bins: map[string]launcher.Binary{
			"yt-dlp":  writeVersionScript(t, dir, "yt-dlp", "2024.08.06"),
			"ffmpeg":  writeVersionScript(t, dir, "ffmpeg", "ffmpeg version 6.1"),
			"ffprobe": writeVersionScript(t, dir, "ffprobe", "ffprobe version 6.1"),
		}}
		app := newJobContext(t, resolver)

		status, msg := jobs.ReprobeBinaries(context.Background(), app)
		assert.Equal(t, models.JobStatusFinished, status)
		assert.Equal(t, "all tools available", msg)
	})

	t.Run("downloader too old", func(t *testing.T) {
		dir := t.TempDir()
		resolver := stubResolver{bins: map[string]launcher.Binary{
			"yt-dlp":  writeVersionScript(t, dir, "yt-dlp", "2022.10.04"),
			"ffmpeg":  writeVersionScript(t, dir, "ffmpeg", "ffmpeg version 6.1"),
			"ffprobe": writeVersionScript(t, dir, "ffprobe", "ffprobe version 6.1"),
		}}
		app := newJobContext(t, resolver)

		status, _ := jobs.ReprobeBinaries(context.Background(), app)
		assert.Equal(t, models.JobStatusFailed, status)
	})

	t.Run("missing transcoder", func(t *testing.T) {
		dir := t.TempDir()
		resolver := stubResolver{bins: map[string]launcher.Binary{
			"yt-dlp": writeVersionScript(t, dir, "yt-dlp", "2024.08.06"),
		}}
		app := newJobContext(t, resolver)

		status, msg := jobs.ReprobeBinaries(context.Background(), app)
		assert.Equal(t, models.JobStatusFailed, status)
		assert.Contains(t, msg, "not installed")
	})
}

func TestStartJobs(t *testing.T) {
	app := newJobContext(t, stubResolver{})
	app.cfg.History.RetentionDays = 30
	app.cfg.Binaries.ReprobeIntervalHours = 24

	s := jobs.StartJobs(app)
	defer s.Stop()
	assert.Len(t, s.Jobs(), 2)
}
