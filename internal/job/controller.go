// Package job runs one download or transcode job from launch to outcome.
package job

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/launcher"
	"github.com/vrsandeep/mediaflow/internal/metrics"
	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/progress"
	"github.com/vrsandeep/mediaflow/internal/toolerr"
)

const diagnosticLines = 50

// ErrAlreadyStarted is returned when a token is reused for a second job.
var ErrAlreadyStarted = errors.New("job already started")

// HistoryRecorder persists terminal outcomes. Failures are logged and never
// change the outcome.
type HistoryRecorder interface {
	RecordOutcome(o models.JobOutcome) (int64, error)
}

// Tools names the logical binaries the controller launches.
type Tools struct {
	Downloader string
	Transcoder string
	Prober     string
}

type Options struct {
	Launcher        launcher.Launcher
	Policy          args.NetworkPolicy
	Sink            models.ProgressSink
	History         HistoryRecorder
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	Tools           Tools
	RetryBackoff    time.Duration
	MetadataTimeout time.Duration
	// Prefetch looks up title and thumbnail before a download starts.
	Prefetch bool
}

// Controller owns the lifecycle of jobs. It holds no per-job state, so one
// controller can run jobs for several slots at once.
type Controller struct {
	launcher        launcher.Launcher
	policy          args.NetworkPolicy
	sink            models.ProgressSink
	history         HistoryRecorder
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tools           Tools
	retryBackoff    time.Duration
	metadataTimeout time.Duration
	prefetch        bool

	mu      sync.Mutex
	started map[*CancelToken]bool
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tools := opts.Tools
	if tools.Downloader == "" {
		tools.Downloader = "yt-dlp"
	}
	if tools.Transcoder == "" {
		tools.Transcoder = "ffmpeg"
	}
	if tools.Prober == "" {
		tools.Prober = "ffprobe"
	}
	return &Controller{
		launcher:        opts.Launcher,
		policy:          opts.Policy,
		sink:            opts.Sink,
		history:         opts.History,
		logger:          logger.With("component", "job"),
		metrics:         opts.Metrics,
		tools:           tools,
		retryBackoff:    opts.RetryBackoff,
		metadataTimeout: opts.MetadataTimeout,
		prefetch:        opts.Prefetch,
		started:         make(map[*CancelToken]bool),
	}
}

// Run executes req to completion and returns its outcome. It never returns an
// error: every failure becomes a terminal outcome. Cancelling token, or ctx,
// yields a cancelled outcome.
func (c *Controller) Run(ctx context.Context, req models.JobRequest, token *CancelToken) models.JobOutcome {
	started := time.Now()
	logger := c.logger.With("job_id", req.ID, "kind", req.Kind)
	outcome := models.JobOutcome{
		JobID:     req.ID,
		Kind:      req.Kind,
		Locator:   req.Locator,
		Title:     req.Title,
		Quality:   req.Quality,
		Format:    req.Format,
		SourceTag: req.SourceTag,
	}
	if token == nil {
		token = NewCancelToken()
	}
	if err := c.claim(token); err != nil {
		outcome.Status = models.JobStatusFailed
		outcome.ErrorKind = string(toolerr.KindInvalidRequest)
		outcome.ErrorMessage = err.Error()
		return outcome
	}
	defer c.release(token)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	c.metrics.JobStarted(string(req.Kind))
	c.emit(models.ProgressUpdate{JobID: req.ID, Status: models.JobStatusRunning, Title: req.Title})
	logger.Info("job started", "locator", req.Locator)

	tool, argv, err := c.prepare(ctx, req, &outcome)
	var tracker *progress.Tracker
	if err == nil {
		tracker, err = c.runWithRetry(ctx, req, tool, argv, token, outcome.Title, logger)
	}
	if err == nil {
		err = c.finalize(req, tracker, &outcome)
	}
	if token.Cancelled() || (err != nil && ctx.Err() != nil) {
		// A cancel request always wins, even over a process that had
		// already exited cleanly.
		err = toolerr.New(toolerr.KindCancelled, "cancelled by user", context.Canceled)
	}

	final := models.ProgressUpdate{JobID: req.ID, Title: outcome.Title}
	if tracker != nil {
		final = tracker.Snapshot(req.ID, "")
		if final.Title == "" {
			final.Title = outcome.Title
		}
	}
	if err != nil {
		outcome.ErrorKind = string(toolerr.KindOf(err))
		outcome.ErrorMessage = err.Error()
		if toolerr.KindOf(err) == toolerr.KindCancelled {
			outcome.Status = models.JobStatusCancelled
		} else {
			outcome.Status = models.JobStatusFailed
		}
		final.Message = outcome.ErrorMessage
	} else {
		outcome.Status = models.JobStatusFinished
		final.Percent = 100
		final.ETA = ""
		final.SizeBytes = outcome.SizeBytes
	}
	outcome.Duration = time.Since(started)
	final.Status = outcome.Status
	c.emit(final)

	c.metrics.JobFinished(string(req.Kind), string(outcome.Status), outcome.ErrorKind, outcome.Duration, outcome.SizeBytes)
	logger.Info("job finished", "status", outcome.Status, "error_kind", outcome.ErrorKind,
		"artifact", outcome.ArtifactPath(), "size_bytes", outcome.SizeBytes, "duration", outcome.Duration)
	c.record(outcome, logger)
	return outcome
}

func (c *Controller) claim(token *CancelToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started[token] {
		return ErrAlreadyStarted
	}
	c.started[token] = true
	return nil
}

func (c *Controller) release(token *CancelToken) {
	c.mu.Lock()
	delete(c.started, token)
	c.mu.Unlock()
}

// prepare composes the tool arguments and fills labels known up front.
func (c *Controller) prepare(ctx context.Context, req models.JobRequest, outcome *models.JobOutcome) (string, []string, error) {
	switch req.Kind {
	case models.JobKindTranscode:
		argv, err := args.BuildTranscode(req)
		if err != nil {
			return "", nil, toolerr.New(toolerr.KindInvalidRequest, err.Error(), err)
		}
		return c.tools.Transcoder, argv, nil
	case models.JobKindDownload, "":
		argv, err := args.BuildDownload(req, c.policy)
		if err != nil {
			return "", nil, toolerr.New(toolerr.KindInvalidRequest, err.Error(), err)
		}
		if c.prefetch && req.Title == "" {
			if md, err := c.FetchMetadata(ctx, req.Locator); err == nil {
				outcome.Title = md.Title
				outcome.Thumbnail = md.Thumbnail
			} else if ctx.Err() == nil {
				c.logger.Debug("metadata prefetch failed", "job_id", req.ID, "error", err)
			}
		}
		return c.tools.Downloader, argv, nil
	default:
		err := errors.New("unknown job kind " + string(req.Kind))
		return "", nil, toolerr.New(toolerr.KindInvalidRequest, err.Error(), err)
	}
}

// runWithRetry runs the tool, retrying once after a transient upstream
// failure. All other failures are returned as is.
func (c *Controller) runWithRetry(ctx context.Context, req models.JobRequest, tool string, argv []string,
	token *CancelToken, title string, logger *slog.Logger) (*progress.Tracker, error) {
	var duration time.Duration
	if req.Kind == models.JobKindTranscode {
		duration = req.DurationHint
		if duration == 0 {
			if d, err := c.ProbeDuration(ctx, req.Locator); err == nil {
				duration = d
			} else {
				logger.Debug("duration probe failed", "error", err)
			}
		}
	}

	var tracker *progress.Tracker
	var lastErr error
	op := func() error {
		tracker = progress.NewTracker()
		tracker.SetTitle(title)
		tracker.SetDuration(duration)
		tracker.SetLabels(req.Quality, req.Format)
		lastErr = c.attempt(ctx, req.ID, tool, argv, tracker, token, logger)
		if lastErr == nil {
			return nil
		}
		if toolerr.IsTransient(lastErr) && !token.Cancelled() {
			return lastErr
		}
		return backoff.Permanent(lastErr)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryBackoff), 1), ctx)
	notify := func(err error, wait time.Duration) {
		c.metrics.JobRetried(string(req.Kind))
		logger.Warn("transient failure, retrying", "error", err, "backoff", wait)
	}
	_ = backoff.RetryNotify(op, b, notify)
	return tracker, lastErr
}

// attempt launches the tool once and pumps both streams until they close.
func (c *Controller) attempt(ctx context.Context, jobID, tool string, argv []string,
	tracker *progress.Tracker, token *CancelToken, logger *slog.Logger) error {
	proc, err := c.launcher.Launch(ctx, tool, argv, nil)
	if err != nil {
		return err
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			logger.Info("cancelling job", "pid", proc.PID())
			proc.Terminate()
			if err := proc.Sweep(c.tools.Downloader, c.tools.Transcoder); err != nil {
				logger.Warn("sweep failed", "error", err)
			}
		})
	}
	pumped := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case <-token.Done():
			stop()
		case <-ctx.Done():
			stop()
		case <-pumped:
		}
	}()

	diag := newLineRing(diagnosticLines)
	var g errgroup.Group
	g.Go(func() error {
		for line := range proc.Stdout() {
			if token.Cancelled() {
				stop()
				continue
			}
			p, ok := progress.Classify(line)
			if !ok {
				continue
			}
			tracker.Apply(p)
			c.emit(tracker.Snapshot(jobID, models.JobStatusRunning))
		}
		return nil
	})
	g.Go(func() error {
		for line := range proc.Stderr() {
			if token.Cancelled() {
				stop()
				continue
			}
			diag.add(line)
			logger.Debug("tool stderr", "line", line)
		}
		return nil
	})
	_ = g.Wait()
	close(pumped)
	<-watched
	status := proc.Wait()

	if token.Cancelled() || ctx.Err() != nil {
		// Children must be gone before the job reports cancelled and its
		// slot is reused.
		stop()
		return toolerr.New(toolerr.KindCancelled, "cancelled by user", context.Canceled)
	}
	if status.Err != nil {
		return toolerr.New(toolerr.KindToolReportedFailure, tool+" did not exit cleanly", status.Err)
	}
	if status.Code != 0 {
		return toolerr.FromDiagnostics(diag.snapshot(), exitError(status))
	}
	return nil
}

// finalize resolves artifacts and size after a clean exit.
func (c *Controller) finalize(req models.JobRequest, tracker *progress.Tracker, outcome *models.JobOutcome) error {
	if outcome.Title == "" {
		outcome.Title = tracker.Title()
	}
	reported := tracker.ArtifactPaths()
	paths := reported
	if req.Kind == models.JobKindTranscode {
		paths = []string{args.TranscodeOutput(req)}
	}

	var verified []string
	var size int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		verified = append(verified, p)
		size += info.Size()
	}

	switch {
	case len(verified) > 0:
		outcome.ArtifactPaths = verified
		outcome.SizeBytes = size
	case len(reported) > 0 || tracker.SawProgress():
		// The tool reported output we cannot see; keep its word for it.
		outcome.ArtifactPaths = paths
		outcome.SizeBytes = tracker.FinalSize()
	default:
		return toolerr.New(toolerr.KindNoResultFound, "no media found at "+req.Locator, nil)
	}
	return nil
}

func (c *Controller) emit(u models.ProgressUpdate) {
	if c.sink != nil {
		c.sink.Progress(u)
	}
}

func (c *Controller) record(o models.JobOutcome, logger *slog.Logger) {
	if c.history == nil {
		return
	}
	if _, err := c.history.RecordOutcome(o); err != nil {
		logger.Warn("failed to record job history", "error", err)
	}
}
