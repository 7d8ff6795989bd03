// Package launcher starts external tools and exposes their output as line
// streams. Whether a tool is packaged with the application or found on the
// host PATH is decided here and nowhere else.
package launcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/vrsandeep/mediaflow/internal/toolerr"
)

// ExitStatus is the result of a finished process.
type ExitStatus struct {
	Code int
	Err  error
}

// Success reports a clean zero exit.
func (s ExitStatus) Success() bool {
	return s.Err == nil && s.Code == 0
}

// Process is a running external tool.
type Process interface {
	// Stdout and Stderr deliver lines in the order they were written. Both
	// channels are closed once the stream reaches EOF and every line has been
	// delivered.
	Stdout() <-chan string
	Stderr() <-chan string
	// Terminate asks the process to stop and kills it after a grace period.
	Terminate()
	// Sweep kills leftover processes with the given names that this process
	// started, including ones orphaned after Terminate.
	Sweep(names ...string) error
	// Wait blocks until both streams are drained and the process has exited.
	// Callers must keep reading Stdout and Stderr until they close.
	Wait() ExitStatus
	PID() int
}

// Launcher starts processes by logical tool name.
type Launcher interface {
	Launch(ctx context.Context, name string, args []string, env map[string]string) (Process, error)
}

// strategy prepares a command for one kind of binary.
type strategy interface {
	command(b Binary, args []string, env map[string]string) *exec.Cmd
}

// hostStrategy runs a binary from the host PATH with the inherited env.
type hostStrategy struct{}

func (hostStrategy) command(b Binary, args []string, env map[string]string) *exec.Cmd {
	cmd := exec.Command(b.Path, args...)
	cmd.Env = mergeEnv(os.Environ(), env)
	return cmd
}

// packagedStrategy runs a bundled binary with the packaged directory first on
// PATH, so the downloader finds the bundled transcoder too.
type packagedStrategy struct {
	dir string
}

func (s packagedStrategy) command(b Binary, args []string, env map[string]string) *exec.Cmd {
	cmd := exec.Command(b.Path, args...)
	merged := map[string]string{"PATH": s.dir + string(os.PathListSeparator) + os.Getenv("PATH")}
	for k, v := range env {
		merged[k] = v
	}
	cmd.Env = mergeEnv(os.Environ(), merged)
	return cmd
}

// ExecLauncher is the OS-process launcher. It dispatches per binary on
// Binary.Packaged.
type ExecLauncher struct {
	resolver BinaryResolver
	logger   *slog.Logger
	host     strategy
	packaged strategy
}

func New(resolver BinaryResolver, logger *slog.Logger) *ExecLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecLauncher{
		resolver: resolver,
		logger:   logger.With("component", "launcher"),
		host:     hostStrategy{},
		packaged: packagedStrategy{dir: resolver.PackagedDir()},
	}
}

// Launch resolves name and starts it. A missing binary or a failed start is
// returned as a classified toolerr.Error. The process is terminated when ctx
// is done before it exits.
func (l *ExecLauncher) Launch(ctx context.Context, name string, args []string, env map[string]string) (Process, error) {
	bin, err := l.resolver.Resolve(name)
	if err != nil {
		return nil, toolerr.New(toolerr.KindBinaryNotFound, name+" is not installed", err)
	}

	s := l.host
	if bin.Packaged {
		s = l.packaged
	}
	cmd := s.command(bin, args, env)

	p, err := start(cmd, l.logger.With("tool", name))
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, toolerr.New(toolerr.KindBinaryNotFound, name+" is not installed", err)
		}
		return nil, toolerr.New(toolerr.KindSpawnFailure, "failed to start "+name, err)
	}
	l.logger.Debug("process started", "tool", name, "pid", p.PID(), "packaged", bin.Packaged)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.Terminate()
			case <-p.exited:
			}
		}()
	}
	return p, nil
}

// mergeEnv applies overrides on top of a KEY=VALUE environment.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}
