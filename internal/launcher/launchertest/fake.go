// Package launchertest provides a scripted launcher.Launcher for tests.
package launchertest

import (
	"context"
	"sync"

	"github.com/vrsandeep/mediaflow/internal/launcher"
)

// FakeScript describes what one fake process prints.
type FakeScript struct {
	Stdout []string
	Stderr []string
	Code   int
	// Step, when set, gates every stdout line: one receive per line.
	Step chan struct{}
	// Hang keeps both streams open after the script until Terminate.
	Hang bool
	// LaunchErr is returned by Launch instead of starting anything.
	LaunchErr error
}

type FakeCall struct {
	Name string
	Args []string
	Env  map[string]string
}

// FakeLauncher replays scripted output instead of running tools. Scripts are
// consumed in launch order; the last one is reused.
type FakeLauncher struct {
	mu        sync.Mutex
	Scripts   []FakeScript
	ByTool    map[string][]FakeScript
	calls     []FakeCall
	processes []*FakeProcess
}

func NewFakeLauncher(scripts ...FakeScript) *FakeLauncher {
	return &FakeLauncher{Scripts: scripts, ByTool: make(map[string][]FakeScript)}
}

func (f *FakeLauncher) Launch(ctx context.Context, name string, args []string, env map[string]string) (launcher.Process, error) {
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Name: name, Args: append([]string(nil), args...), Env: env})
	script := f.next(name)
	f.mu.Unlock()

	if script.LaunchErr != nil {
		return nil, script.LaunchErr
	}
	p := newFakeProcess(script)
	f.mu.Lock()
	f.processes = append(f.processes, p)
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			p.Terminate()
		case <-p.done:
		}
	}()
	return p, nil
}

func (f *FakeLauncher) next(name string) FakeScript {
	if queue := f.ByTool[name]; len(queue) > 0 {
		s := queue[0]
		if len(queue) > 1 {
			f.ByTool[name] = queue[1:]
		}
		return s
	}
	if len(f.Scripts) == 0 {
		return FakeScript{}
	}
	s := f.Scripts[0]
	if len(f.Scripts) > 1 {
		f.Scripts = f.Scripts[1:]
	}
	return s
}

func (f *FakeLauncher) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

func (f *FakeLauncher) Processes() []*FakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeProcess(nil), f.processes...)
}

// FakeProcess implements launcher.Process over a FakeScript.
type FakeProcess struct {
	script FakeScript
	stdout chan string
	stderr chan string

	terminated chan struct{}
	termOnce   sync.Once
	streams    sync.WaitGroup
	done       chan struct{}
	waitOnce   sync.Once
	status     launcher.ExitStatus

	mu    sync.Mutex
	swept []string
}

func newFakeProcess(script FakeScript) *FakeProcess {
	p := &FakeProcess{
		script:     script,
		stdout:     make(chan string),
		stderr:     make(chan string),
		terminated: make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.streams.Add(2)
	go p.emit(p.stdout, script.Stdout, script.Step)
	go p.emit(p.stderr, script.Stderr, nil)
	return p
}

func (p *FakeProcess) emit(out chan<- string, lines []string, step chan struct{}) {
	defer p.streams.Done()
	defer close(out)
	for _, line := range lines {
		if step != nil {
			select {
			case <-step:
			case <-p.terminated:
				return
			}
		}
		select {
		case out <- line:
		case <-p.terminated:
			return
		}
	}
	if p.script.Hang {
		<-p.terminated
	}
}

func (p *FakeProcess) Stdout() <-chan string { return p.stdout }
func (p *FakeProcess) Stderr() <-chan string { return p.stderr }
func (p *FakeProcess) PID() int              { return 4242 }

func (p *FakeProcess) Terminate() {
	p.termOnce.Do(func() { close(p.terminated) })
}

func (p *FakeProcess) Terminated() bool {
	select {
	case <-p.terminated:
		return true
	default:
		return false
	}
}

func (p *FakeProcess) Sweep(names ...string) error {
	p.mu.Lock()
	p.swept = append(p.swept, names...)
	p.mu.Unlock()
	return nil
}

func (p *FakeProcess) Swept() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.swept...)
}

func (p *FakeProcess) Wait() launcher.ExitStatus {
	p.waitOnce.Do(func() {
		p.streams.Wait()
		if p.Terminated() {
			p.status = launcher.ExitStatus{Code: -1}
		} else {
			p.status = launcher.ExitStatus{Code: p.script.Code}
		}
		close(p.done)
	})
	return p.status
}
