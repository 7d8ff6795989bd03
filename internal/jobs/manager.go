package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vrsandeep/mediaflow/internal/models"
)

// Well-known slots. At most one job runs per slot at a time.
const (
	SlotDownload    = "download"
	SlotTranscode   = "transcode"
	SlotMaintenance = "maintenance"
)

var (
	ErrSlotBusy    = errors.New("slot is busy")
	ErrUnknownSlot = errors.New("unknown slot")
)

// Task runs one job and reports its terminal status and a short message.
type Task func() (models.JobStatus, string)

type SlotStatus struct {
	Slot      string           `json:"slot"`
	JobID     string           `json:"job_id,omitempty"`
	Status    models.JobStatus `json:"status"`
	Message   string           `json:"message,omitempty"`
	StartTime time.Time        `json:"start_time,omitempty"`
	EndTime   time.Time        `json:"end_time,omitempty"`
}

type slot struct {
	status  SlotStatus
	running bool
	cancel  func()
	// free is closed and replaced every time the slot becomes idle.
	free chan struct{}
}

// SlotManager admits at most one running job per named slot. Submissions to
// a busy slot are rejected; queueing is left to the caller.
type SlotManager struct {
	mu     sync.Mutex
	slots  map[string]*slot
	logger *slog.Logger
}

func NewSlotManager(logger *slog.Logger, names ...string) *SlotManager {
	if logger == nil {
		logger = slog.Default()
	}
	sm := &SlotManager{
		slots:  make(map[string]*slot),
		logger: logger.With("component", "slots"),
	}
	for _, n := range names {
		sm.Register(n)
	}
	return sm
}

func (sm *SlotManager) Register(name string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.slots[name]; ok {
		return
	}
	sm.slots[name] = &slot{
		status: SlotStatus{Slot: name, Status: models.JobStatusIdle},
		free:   make(chan struct{}),
	}
}

// Run starts task in the slot on a new goroutine. cancel, when not nil, is
// what Cancel calls for this job.
func (sm *SlotManager) Run(name, jobID string, cancel func(), task Task) error {
	sm.mu.Lock()
	s, ok := sm.slots[name]
	if !ok {
		sm.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrUnknownSlot)
	}
	if s.running {
		sm.mu.Unlock()
		return fmt.Errorf("%s slot is running %s: %w", name, s.status.JobID, ErrSlotBusy)
	}
	s.running = true
	s.cancel = cancel
	s.status = SlotStatus{
		Slot:      name,
		JobID:     jobID,
		Status:    models.JobStatusRunning,
		Message:   "Job started...",
		StartTime: time.Now(),
	}
	sm.mu.Unlock()

	sm.logger.Info("starting job", "slot", name, "job_id", jobID)
	go func() {
		status, message := models.JobStatusFailed, ""
		defer func() {
			if r := recover(); r != nil {
				sm.logger.Error("job panicked", "slot", name, "job_id", jobID, "panic", r)
				status = models.JobStatusFailed
				message = fmt.Sprintf("Job panicked: %v", r)
			}

			sm.mu.Lock()
			s.status.Status = status
			s.status.Message = message
			s.status.EndTime = time.Now()
			s.running = false
			s.cancel = nil
			close(s.free)
			s.free = make(chan struct{})
			sm.mu.Unlock()
			sm.logger.Info("finished job", "slot", name, "job_id", jobID, "status", status)
		}()

		status, message = task()
	}()
	return nil
}

// Cancel cancels the running job with jobID. It reports false when no slot is
// running that job.
func (sm *SlotManager) Cancel(jobID string) bool {
	sm.mu.Lock()
	var cancel func()
	for _, s := range sm.slots {
		if s.running && s.status.JobID == jobID {
			cancel = s.cancel
			break
		}
	}
	sm.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Busy reports whether a job is running in the slot.
func (sm *SlotManager) Busy(name string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.slots[name]
	return ok && s.running
}

// WaitIdle blocks until the slot is idle or ctx is done.
func (sm *SlotManager) WaitIdle(ctx context.Context, name string) error {
	for {
		sm.mu.Lock()
		s, ok := sm.slots[name]
		if !ok {
			sm.mu.Unlock()
			return fmt.Errorf("%s: %w", name, ErrUnknownSlot)
		}
		if !s.running {
			sm.mu.Unlock()
			return nil
		}
		free := s.free
		sm.mu.Unlock()

		select {
		case <-free:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// GetStatus returns a copy of every slot's status, sorted by slot name.
func (sm *SlotManager) GetStatus() []SlotStatus {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	statuses := make([]SlotStatus, 0, len(sm.slots))
	for _, s := range sm.slots {
		statuses = append(statuses, s.status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Slot < statuses[j].Slot })
	return statuses
}
