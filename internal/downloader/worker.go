// Package downloader queues job requests and feeds them to the job
// controller one slot at a time.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/job"
	"github.com/vrsandeep/mediaflow/internal/jobs"
	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/util"
)

const DefaultQueueSize = 256

var (
	ErrQueueFull     = errors.New("download queue is full")
	ErrWorkerStopped = errors.New("download worker is stopped")
)

// Runner runs one job to completion.
type Runner interface {
	Run(ctx context.Context, req models.JobRequest, token *job.CancelToken) models.JobOutcome
}

type Options struct {
	Runner         Runner
	Slots          *jobs.SlotManager
	Sink           models.ProgressSink
	Logger         *slog.Logger
	DownloadDir    string
	OutputTemplate string
	QueueSize      int
}

type queued struct {
	req   models.JobRequest
	token *job.CancelToken
}

// Worker holds one queue per slot. Each queue is drained by its own goroutine,
// which waits for the slot to be idle before starting the next job.
type Worker struct {
	runner         Runner
	slots          *jobs.SlotManager
	sink           models.ProgressSink
	logger         *slog.Logger
	downloadDir    string
	outputTemplate string

	queues map[string]chan queued

	mu      sync.Mutex
	pending map[string]queued
	order   []string
	paused  bool
	resumed chan struct{}
	stopped bool
}

func NewWorker(opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Worker{
		runner:         opts.Runner,
		slots:          opts.Slots,
		sink:           opts.Sink,
		logger:         logger.With("component", "downloader"),
		downloadDir:    opts.DownloadDir,
		outputTemplate: opts.OutputTemplate,
		queues: map[string]chan queued{
			jobs.SlotDownload:  make(chan queued, size),
			jobs.SlotTranscode: make(chan queued, size),
		},
		pending: make(map[string]queued),
		resumed: make(chan struct{}),
	}
}

func slotFor(kind models.JobKind) string {
	if kind == models.JobKindTranscode {
		return jobs.SlotTranscode
	}
	return jobs.SlotDownload
}

// Submit validates req, assigns an id when it has none and queues it. It
// returns the job id.
func (w *Worker) Submit(req models.JobRequest) (string, error) {
	if req.Kind == "" {
		req.Kind = models.JobKindDownload
	}
	if req.Kind != models.JobKindDownload && req.Kind != models.JobKindTranscode {
		return "", fmt.Errorf("unknown job kind %q", req.Kind)
	}
	if strings.TrimSpace(req.Locator) == "" {
		return "", errors.New("locator is required")
	}
	if err := args.CheckValue("locator", req.Locator); err != nil {
		return "", err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Kind == models.JobKindDownload {
		if req.OutputDir == "" {
			req.OutputDir = w.downloadDir
		}
		if req.OutputTemplate == "" {
			req.OutputTemplate = w.outputTemplate
		}
	}

	item := queued{req: req, token: job.NewCancelToken()}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return "", ErrWorkerStopped
	}
	if _, dup := w.pending[req.ID]; dup {
		return "", fmt.Errorf("job %s is already queued", req.ID)
	}
	select {
	case w.queues[slotFor(req.Kind)] <- item:
	default:
		return "", ErrQueueFull
	}
	w.pending[req.ID] = item
	w.order = append(w.order, req.ID)
	w.logger.Info("job queued", "job_id", req.ID, "kind", req.Kind, "locator", req.Locator)
	return req.ID, nil
}

// Start drains the queues until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	for slot, q := range w.queues {
		go w.drain(ctx, slot, q)
	}
	go func() {
		<-ctx.Done()
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
	}()
}

func (w *Worker) drain(ctx context.Context, slot string, q <-chan queued) {
	w.logger.Info("starting queue", "slot", slot)
	for {
		var item queued
		select {
		case <-ctx.Done():
			return
		case item = <-q:
		}
		if err := w.waitResumed(ctx); err != nil {
			return
		}
		if item.token.Cancelled() {
			// Cancelled while queued; it never reached the controller.
			w.forget(item.req.ID)
			continue
		}
		if err := w.dispatch(ctx, slot, item); err != nil {
			w.logger.Warn("job dropped", "job_id", item.req.ID, "error", err)
			w.forget(item.req.ID)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, slot string, item queued) error {
	task := func() (models.JobStatus, string) {
		w.forget(item.req.ID)
		if item.token.Cancelled() {
			return models.JobStatusCancelled, "cancelled by user"
		}
		outcome := w.runner.Run(ctx, item.req, item.token)
		if outcome.ErrorMessage != "" {
			return outcome.Status, outcome.ErrorMessage
		}
		return outcome.Status, outcome.ArtifactPath()
	}
	for {
		err := w.slots.Run(slot, item.req.ID, item.token.Cancel, task)
		if !errors.Is(err, jobs.ErrSlotBusy) {
			return err
		}
		if err := w.slots.WaitIdle(ctx, slot); err != nil {
			return err
		}
	}
}

func (w *Worker) forget(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, jobID)
	for i, id := range w.order {
		if id == jobID {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// Cancel cancels a queued or running job. It reports false for unknown ids.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	item, ok := w.pending[jobID]
	if ok {
		delete(w.pending, jobID)
		for i, id := range w.order {
			if id == jobID {
				w.order = append(w.order[:i], w.order[i+1:]...)
				break
			}
		}
	}
	w.mu.Unlock()

	if ok {
		item.token.Cancel()
		w.logger.Info("queued job cancelled", "job_id", jobID)
		if w.sink != nil {
			w.sink.Progress(models.ProgressUpdate{
				JobID:   jobID,
				Status:  models.JobStatusCancelled,
				Title:   item.req.Title,
				Message: "cancelled by user",
			})
		}
		return true
	}
	return w.slots.Cancel(jobID)
}

// Queued returns the requests waiting for a slot, oldest first.
func (w *Worker) Queued() []models.JobRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.JobRequest, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.pending[id].req)
	}
	return out
}

// Pause stops new jobs from starting. The running job is not affected.
func (w *Worker) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
	w.logger.Info("download queue paused")
}

func (w *Worker) Resume() {
	w.mu.Lock()
	if w.paused {
		w.paused = false
		close(w.resumed)
		w.resumed = make(chan struct{})
	}
	w.mu.Unlock()
	w.logger.Info("download queue resumed")
}

func (w *Worker) IsPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *Worker) waitResumed(ctx context.Context) error {
	for {
		w.mu.Lock()
		paused, resumed := w.paused, w.resumed
		w.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-resumed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Discovery is a no-op; the worker only reacts to auto-download requests.
func (w *Worker) Discovery(models.DiscoveryEvent) {}

// AutoDownload queues one download per discovered item, into the source's
// folder under the download directory.
func (w *Worker) AutoDownload(evt models.AutoDownloadEvent) {
	folder := SanitizeFilename(evt.SourceName)
	if evt.FolderPath != nil && *evt.FolderPath != "" {
		if p := util.SanitizeFolderPath(*evt.FolderPath); p != "" {
			folder = p
		}
	}
	dir := filepath.Join(w.downloadDir, folder)

	for _, item := range evt.Items {
		id, err := w.Submit(models.JobRequest{
			Kind:      models.JobKindDownload,
			Locator:   item.Locator,
			Title:     item.Title,
			Quality:   evt.Quality,
			Format:    evt.Format,
			OutputDir: dir,
			SourceTag: fmt.Sprintf("source:%d", evt.SourceID),
		})
		if err != nil {
			w.logger.Warn("auto-download not queued", "source_id", evt.SourceID, "item_id", item.ItemID, "error", err)
			continue
		}
		w.logger.Debug("auto-download queued", "source_id", evt.SourceID, "item_id", item.ItemID, "job_id", id)
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[\x00\\/:*?"<>|]`)

// SanitizeFilename makes name safe to use as a single path component.
func SanitizeFilename(name string) string {
	safe := unsafeFilenameChars.ReplaceAllString(name, "-")
	for strings.HasPrefix(safe, ".") || strings.HasPrefix(safe, "-") {
		safe = safe[1:]
	}
	if safe == "" {
		safe = "untitled"
	}
	return safe
}
