package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mediaflow/internal/jobs"
	"github.com/vrsandeep/mediaflow/internal/models"
)

func waitForStatus(t *testing.T, sm *jobs.SlotManager, slot string, want models.JobStatus) jobs.SlotStatus {
	t.Helper()
	var got jobs.SlotStatus
	require.Eventually(t, func() bool {
		for _, s := range sm.GetStatus() {
			if s.Slot == slot {
				got = s
				return s.Status == want
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestSlotManager_NewSlotManager(t *testing.T) {
	sm := jobs.NewSlotManager(nil, jobs.SlotTranscode, jobs.SlotDownload)
	statuses := sm.GetStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, jobs.SlotDownload, statuses[0].Slot)
	assert.Equal(t, jobs.SlotTranscode, statuses[1].Slot)
	assert.Equal(t, models.JobStatusIdle, statuses[0].Status)
}

func TestSlotManager_RunRecordsOutcome(t *testing.T) {
	sm := jobs.NewSlotManager(nil, jobs.SlotDownload)
	err := sm.Run(jobs.SlotDownload, "job-1", nil, func() (models.JobStatus, string) {
		return models.JobStatusFinished, "done"
	})
	require.NoError(t, err)

	st := waitForStatus(t, sm, jobs.SlotDownload, models.JobStatusFinished)
	assert.Equal(t, "job-1", st.JobID)
	assert.Equal(t, "done", st.Message)
	assert.False(t, st.EndTime.IsZero())
	assert.False(t, sm.Busy(jobs.SlotDownload))
}

func TestSlotManager_RejectsSecondJobInBusySlot(t *testing.T) {
	sm := jobs.NewSlotManager(nil, jobs.SlotDownload, jobs.SlotTranscode)
	release := make(chan struct{})
	require.NoError(t, sm.Run(jobs.SlotDownload, "a", nil, func() (models.JobStatus, string) {
		<-release
		return models.JobStatusFinished, ""
	}))

	err := sm.Run(jobs.SlotDownload, "b", nil, func() (models.JobStatus, string) {
		return models.JobStatusFinished, ""
	})
	assert.ErrorIs(t, err, jobs.ErrSlotBusy)

	// Other slots are independent.
	require.NoError(t, sm.Run(jobs.SlotTranscode, "c", nil, func() (models.JobStatus, string) {
		return models.JobStatusFinished, ""
	}))

	close(release)
	waitForStatus(t, sm, jobs.SlotDownload, models.JobStatusFinished)
}

func TestSlotManager_UnknownSlot(t *testing.T) {
	sm := jobs.NewSlotManager(nil)
	err := sm.Run("nope", "x", nil, func() (models.JobStatus, string) { return models.JobStatusFinished, "" })
	assert.ErrorIs(t, err, jobs.ErrUnknownSlot)
	assert.ErrorIs(t, sm.WaitIdle(context.Background(), "nope"), jobs.ErrUnknownSlot)
}

func TestSlotManager_PanicMarksFailed(t *testing.T) {
	sm := jobs.NewSlotManager(nil, jobs.SlotDownload)
	require.NoError(t, sm.Run(jobs.SlotDownload, "boom", nil, func() (models.JobStatus, string) {
		panic("something broke")
	}))

	st := waitForStatus(t, sm, jobs.SlotDownload, models.JobStatusFailed)
	assert.Contains(t, st.Message, "something broke")

	// The slot is usable again after a panic.
	require.NoError(t, sm.Run(jobs.SlotDownload, "next", nil, func() (models.JobStatus, string) {
		return models.JobStatusFinished, ""
	}))
	waitForStatus(t, sm, jobs.SlotDownload, models.JobStatusFinished)
}

func TestSlotManager_Cancel(t *testing.T) {
	sm := jobs.NewSlotManager(nil, jobs.SlotDownload)
	cancelled := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(cancelled) }) }

	require.NoError(t, sm.Run(jobs.SlotDownload, "job-1", cancel, func() (models.JobStatus, string) {
		<-cancelled
		return models.JobStatusCancelled, "cancelled by user"
	}))

	assert.False(t, sm.Cancel("other"))
	assert.True(t, sm.Cancel("job-1"))
	waitForStatus(t, sm, jobs.SlotDownload, models.JobStatusCancelled)
	assert.False(t, sm.Cancel("job-1"), "finished jobs cannot be cancelled")
}

func TestSlotManager_WaitIdle(t *testing.T) {
	sm := jobs.NewSlotManager(nil, jobs.SlotDownload)
	require.NoError(t, sm.WaitIdle(context.Background(), jobs.SlotDownload))

	release := make(chan struct{})
	require.NoError(t, sm.Run(jobs.SlotDownload, "a", nil, func() (models.JobStatus, string) {
		<-release
		return models.JobStatusFinished, ""
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sm.WaitIdle(ctx, jobs.SlotDownload), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- sm.WaitIdle(context.Background(), jobs.SlotDownload) }()
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIdle did not return after the job finished")
	}
}
