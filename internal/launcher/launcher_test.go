package launcher

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/mediaflow/internal/toolerr"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}
}

func drain(p Process) (stdout, stderr []string) {
	done := make(chan struct{})
	go func() {
		for l := range p.Stderr() {
			stderr = append(stderr, l)
		}
		close(done)
	}()
	for l := range p.Stdout() {
		stdout = append(stdout, l)
	}
	<-done
	return stdout, stderr
}

func TestResolver(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeScript(t, dir, "fake-dl", "exit 0")
	r := NewResolver(dir, nil)

	t.Run("packaged first", func(t *testing.T) {
		b, err := r.Resolve("fake-dl")
		require.NoError(t, err)
		assert.True(t, b.Packaged)
		assert.Equal(t, "fake-dl", filepath.Base(b.Path))
	})

	t.Run("host fallback", func(t *testing.T) {
		b, err := r.Resolve("sh")
		require.NoError(t, err)
		assert.False(t, b.Packaged)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := r.Resolve("definitely-not-a-real-tool-xyz")
		assert.ErrorIs(t, err, ErrBinaryNotFound)
	})

	t.Run("non executable file is ignored", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "plain"), []byte("x"), 0o644))
		_, err := r.Resolve("plain")
		assert.ErrorIs(t, err, ErrBinaryNotFound)
	})
}

func TestResolverWatchInvalidatesCache(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	r := NewResolver(dir, nil)
	require.NoError(t, r.Watch())
	defer r.Close()

	b, err := r.Resolve("sh")
	require.NoError(t, err)
	require.False(t, b.Packaged)

	writeScript(t, dir, "sh", "exit 0")
	assert.Eventually(t, func() bool {
		b, err := r.Resolve("sh")
		return err == nil && b.Packaged
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLaunchStreams(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeScript(t, dir, "fake-dl", `printf 'one\rtwo\nthree\n'
echo "ERROR: broken" >&2
printf 'tail-without-newline'
exit 3`)
	l := New(NewResolver(dir, nil), nil)

	p, err := l.Launch(context.Background(), "fake-dl", nil, nil)
	require.NoError(t, err)
	stdout, stderr := drain(p)
	status := p.Wait()

	assert.Equal(t, []string{"one", "two", "three", "tail-without-newline"}, stdout)
	assert.Equal(t, []string{"ERROR: broken"}, stderr)
	assert.Equal(t, 3, status.Code)
	assert.NoError(t, status.Err)
	assert.False(t, status.Success())
}

func TestLaunchPackagedPath(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeScript(t, dir, "fake-dl", `echo "$PATH"; echo "$EXTRA"`)
	l := New(NewResolver(dir, nil), nil)

	p, err := l.Launch(context.Background(), "fake-dl", nil, map[string]string{"EXTRA": "yes"})
	require.NoError(t, err)
	stdout, _ := drain(p)
	require.True(t, p.Wait().Success())
	require.Len(t, stdout, 2)
	assert.True(t, strings.HasPrefix(stdout[0], dir+string(os.PathListSeparator)))
	assert.Equal(t, "yes", stdout[1])
}

func TestLaunchMissingBinary(t *testing.T) {
	l := New(NewResolver(t.TempDir(), nil), nil)
	_, err := l.Launch(context.Background(), "definitely-not-a-real-tool-xyz", nil, nil)
	require.Error(t, err)
	assert.Equal(t, toolerr.KindBinaryNotFound, toolerr.KindOf(err))
	assert.True(t, errors.Is(err, ErrBinaryNotFound))
}

func TestTerminate(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeScript(t, dir, "fake-dl", "echo started\nexec sleep 30")
	l := New(NewResolver(dir, nil), nil)

	p, err := l.Launch(context.Background(), "fake-dl", nil, nil)
	require.NoError(t, err)
	first := <-p.Stdout()
	assert.Equal(t, "started", first)

	p.Terminate()
	done := make(chan ExitStatus)
	go func() {
		drain(p)
		done <- p.Wait()
	}()
	select {
	case status := <-done:
		assert.False(t, status.Success())
	case <-time.After(terminateGrace + 2*time.Second):
		t.Fatal("process did not exit after Terminate")
	}
	// Sweeping after exit finds nothing of ours and must not fail.
	assert.NoError(t, p.Sweep("fake-dl-child-that-does-not-exist"))
}

// exitedOrZombie reports whether pid is gone or only waits to be reaped.
func exitedOrZombie(pid int) bool {
	raw, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return true
	}
	stat := string(raw)
	i := strings.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return true
	}
	return stat[i+2] == 'Z'
}

func TestSweepKillsChildThatIgnoresTerminate(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("inspects /proc")
	}
	dir := t.TempDir()
	writeScript(t, dir, "fake-enc", "trap '' INT TERM\nwhile true; do sleep 1; done")
	writeScript(t, dir, "fake-dl", `"$(dirname "$0")/fake-enc" >/dev/null 2>&1 &`+"\necho $!\nwait")
	l := New(NewResolver(dir, nil), nil)

	p, err := l.Launch(context.Background(), "fake-dl", nil, nil)
	require.NoError(t, err)
	childPID, err := strconv.Atoi(strings.TrimSpace(<-p.Stdout()))
	require.NoError(t, err)
	t.Cleanup(func() { syscall.Kill(childPID, syscall.SIGKILL) })
	require.False(t, exitedOrZombie(childPID))

	p.Terminate()
	done := make(chan struct{})
	go func() {
		drain(p)
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(terminateGrace + 2*time.Second):
		t.Fatal("parent did not exit after Terminate")
	}
	assert.False(t, exitedOrZombie(childPID), "child ignores terminate and must still be running")

	require.NoError(t, p.Sweep("fake-dl", "fake-enc"))
	assert.Eventually(t, func() bool { return exitedOrZombie(childPID) }, 2*time.Second, 20*time.Millisecond)
}

func TestLaunchContextCancel(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeScript(t, dir, "fake-dl", "exec sleep 30")
	l := New(NewResolver(dir, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	p, err := l.Launch(ctx, "fake-dl", nil, nil)
	require.NoError(t, err)
	cancel()

	done := make(chan struct{})
	go func() {
		drain(p)
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(terminateGrace + 2*time.Second):
		t.Fatal("process outlived its context")
	}
}

func TestScanLines(t *testing.T) {
	input := "a\r\nb\r\r\nc\n\n[download]  50.0%\r[download] 100%"
	s := bufio.NewScanner(strings.NewReader(input))
	s.Split(scanLines)
	var got []string
	for s.Scan() {
		got = append(got, s.Text())
	}
	assert.Equal(t, []string{"a", "b", "c", "[download]  50.0%", "[download] 100%"}, got)
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"PATH=/usr/bin", "HOME=/root"}, map[string]string{"PATH": "/opt/bin"})
	assert.ElementsMatch(t, []string{"HOME=/root", "PATH=/opt/bin"}, got)
}
