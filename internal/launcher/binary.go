package launcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrBinaryNotFound is returned when a tool is neither packaged nor on PATH.
var ErrBinaryNotFound = errors.New("binary not found")

// Binary is a resolved external tool.
type Binary struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Packaged bool   `json:"packaged"`
}

// BinaryResolver turns a logical tool name into an executable.
type BinaryResolver interface {
	Resolve(name string) (Binary, error)
	PackagedDir() string
}

// Resolver looks for tools in a packaged directory first and then on the host
// PATH. Results are cached until the packaged directory changes.
type Resolver struct {
	packagedDir string
	logger      *slog.Logger

	mu      sync.RWMutex
	cache   map[string]Binary
	watcher *fsnotify.Watcher
}

func NewResolver(packagedDir string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		packagedDir: packagedDir,
		logger:      logger.With("component", "resolver"),
		cache:       make(map[string]Binary),
	}
}

func (r *Resolver) PackagedDir() string {
	return r.packagedDir
}

// Resolve returns the binary for name.
func (r *Resolver) Resolve(name string) (Binary, error) {
	r.mu.RLock()
	b, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	b, err := r.lookup(name)
	if err != nil {
		return Binary{}, err
	}
	r.mu.Lock()
	r.cache[name] = b
	r.mu.Unlock()
	return b, nil
}

func (r *Resolver) lookup(name string) (Binary, error) {
	if r.packagedDir != "" {
		candidate := filepath.Join(r.packagedDir, executableName(name))
		if isExecutable(candidate) {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				abs = candidate
			}
			return Binary{Name: name, Path: abs, Packaged: true}, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return Binary{}, fmt.Errorf("%s: %w", name, ErrBinaryNotFound)
	}
	return Binary{Name: name, Path: path}, nil
}

// Invalidate drops every cached resolution.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]Binary)
	r.mu.Unlock()
}

// Watch invalidates the cache whenever the packaged directory changes, so a
// tool installed or removed at runtime is picked up on the next launch.
func (r *Resolver) Watch() error {
	if r.packagedDir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.packagedDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.packagedDir, err)
	}
	r.mu.Lock()
	r.watcher = watcher
	r.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.logger.Debug("packaged binaries changed", "path", event.Name, "op", event.Op.String())
				r.Invalidate()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("packaged binaries watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops watching the packaged directory.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	r.watcher = nil
	return err
}

func executableName(name string) string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		return name + ".exe"
	}
	return name
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
