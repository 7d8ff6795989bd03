package jobs

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/vrsandeep/mediaflow/internal/config"
	"github.com/vrsandeep/mediaflow/internal/launcher"
	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/store"
)

// JobContext provides the dependencies maintenance jobs need.
// The core.App struct implements this interface.
type JobContext interface {
	DB() *sql.DB
	Config() *config.Config
	Logger() *slog.Logger
	Slots() *SlotManager
	Resolver() launcher.BinaryResolver
}

const (
	JobHistoryPrune  = "history-prune"
	JobBinaryReprobe = "binary-reprobe"
)

// StartJobs starts the background maintenance scheduler. Maintenance runs
// through the maintenance slot so it never overlaps with itself.
func StartJobs(app JobContext) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	logger := app.Logger().With("component", "scheduler")

	if days := app.Config().History.RetentionDays; days > 0 {
		schedule(s, app, logger, JobHistoryPrune, 6*time.Hour, func() (models.JobStatus, string) {
			return PruneHistory(app, time.Now().AddDate(0, 0, -days))
		})
	} else {
		logger.Info("history retention is 0, pruning is disabled")
	}

	if every := app.Config().Binaries.ReprobeInterval(); every > 0 {
		schedule(s, app, logger, JobBinaryReprobe, every, func() (models.JobStatus, string) {
			return ReprobeBinaries(context.Background(), app)
		})
	}

	logger.Info("starting background job scheduler")
	s.StartAsync()
	return s
}

func schedule(s *gocron.Scheduler, app JobContext, logger *slog.Logger, jobID string, every time.Duration, task Task) {
	logger.Info("scheduling job", "job_id", jobID, "every", every)
	_, err := s.Every(every).Do(func() {
		// Submit through the slot manager instead of running directly so
		// a manual trigger and a scheduled one never overlap.
		if err := app.Slots().Run(SlotMaintenance, jobID, nil, task); err != nil {
			logger.Warn("scheduled job could not start", "job_id", jobID, "error", err)
		}
	})
	if err != nil {
		logger.Error("error scheduling job", "job_id", jobID, "error", err)
	}
}

// PruneHistory deletes history entries created before cutoff.
func PruneHistory(app JobContext, cutoff time.Time) (models.JobStatus, string) {
	n, err := store.New(app.DB()).PruneHistory(cutoff)
	if err != nil {
		app.Logger().Error("history prune failed", "error", err)
		return models.JobStatusFailed, err.Error()
	}
	app.Logger().Info("history pruned", "removed", n, "cutoff", cutoff)
	return models.JobStatusFinished, "pruned history entries"
}

// ReprobeBinaries resolves every configured tool and checks the downloader
// against the minimum supported version. Tools update themselves often, so
// this runs periodically rather than once at startup.
func ReprobeBinaries(ctx context.Context, app JobContext) (models.JobStatus, string) {
	bins := app.Config().Binaries
	logger := app.Logger()
	status, message := models.JobStatusFinished, "all tools available"

	for _, name := range []string{bins.Downloader, bins.Transcoder, bins.Prober} {
		b, err := app.Resolver().Resolve(name)
		if err != nil {
			logger.Warn("tool unavailable", "tool", name, "error", err)
			status, message = models.JobStatusFailed, name+" is not installed"
			continue
		}
		if name != bins.Downloader {
			continue
		}
		v, err := launcher.CheckMinVersion(ctx, b, bins.MinDownloaderVersion)
		if err != nil {
			logger.Warn("downloader version check failed", "path", b.Path, "error", err)
			status, message = models.JobStatusFailed, err.Error()
			continue
		}
		logger.Info("downloader version ok", "version", v, "packaged", b.Packaged)
	}
	return status, message
}
