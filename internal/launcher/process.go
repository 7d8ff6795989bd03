package launcher

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

const (
	lineBuffer     = 256
	maxLineLength  = 1 << 20
	terminateGrace = 3 * time.Second
)

type process struct {
	cmd       *exec.Cmd
	logger    *slog.Logger
	startedAt time.Time

	stdout chan string
	stderr chan string
	// readers tracks the two pipe readers; Wait may only reap the process
	// after both reached EOF.
	readers sync.WaitGroup

	waitOnce sync.Once
	status   ExitStatus
	exited   chan struct{}

	mu          sync.Mutex
	descendants []int32
	killTimer   *time.Timer
}

func start(cmd *exec.Cmd, logger *slog.Logger) (*process, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{
		cmd:       cmd,
		logger:    logger,
		startedAt: time.Now(),
		stdout:    make(chan string, lineBuffer),
		stderr:    make(chan string, lineBuffer),
		exited:    make(chan struct{}),
	}
	p.readers.Add(2)
	go p.readLines(stdout, p.stdout)
	go p.readLines(stderr, p.stderr)
	return p, nil
}

func (p *process) readLines(r io.Reader, out chan<- string) {
	defer p.readers.Done()
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	scanner.Split(scanLines)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("stream read error", "error", err)
		// Drain so the child never blocks on a full pipe.
		io.Copy(io.Discard, r)
	}
}

// scanLines splits on "\n" or "\r", since progress bars rewrite the same
// line with carriage returns. Empty tokens from "\r\n" are dropped.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\n' || data[start] == '\r') {
		start++
	}
	if atEOF && start == len(data) {
		return len(data), nil, nil
	}
	if i := bytes.IndexAny(data[start:], "\r\n"); i >= 0 {
		return start + i + 1, data[start : start+i], nil
	}
	if atEOF {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

func (p *process) Stdout() <-chan string { return p.stdout }
func (p *process) Stderr() <-chan string { return p.stderr }

func (p *process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) Terminate() {
	select {
	case <-p.exited:
		return
	default:
	}

	p.mu.Lock()
	if p.killTimer != nil {
		p.mu.Unlock()
		return
	}
	// Children must be recorded before the parent dies and they get
	// reparented.
	p.descendants = appendUnique(p.descendants, descendantsOf(int32(p.PID()))...)
	p.killTimer = time.AfterFunc(terminateGrace, func() {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("kill failed", "pid", p.PID(), "error", err)
		}
	})
	p.mu.Unlock()

	sig := os.Interrupt
	if runtime.GOOS == "windows" {
		sig = os.Kill
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("terminate signal failed", "pid", p.PID(), "error", err)
	}
}

func (p *process) Wait() ExitStatus {
	p.waitOnce.Do(func() {
		p.readers.Wait()
		err := p.cmd.Wait()

		p.mu.Lock()
		if p.killTimer != nil {
			p.killTimer.Stop()
		}
		p.mu.Unlock()

		code := -1
		if p.cmd.ProcessState != nil {
			code = p.cmd.ProcessState.ExitCode()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A non-zero exit is reported through Code.
			err = nil
		}
		p.status = ExitStatus{Code: code, Err: err}
		close(p.exited)
	})
	return p.status
}
