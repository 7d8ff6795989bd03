package job

import (
	"sync"
	"sync/atomic"
)

// CancelToken is a per-job cancellation flag. Reads are lock free so the
// stream pump can check it on every line.
type CancelToken struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel marks the job cancelled. Calling it more than once is harmless.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
	t.once.Do(func() { close(t.done) })
}

func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed on the first Cancel.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
