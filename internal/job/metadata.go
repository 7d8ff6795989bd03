package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/launcher"
	"github.com/vrsandeep/mediaflow/internal/toolerr"
)

// Metadata is the subset of the downloader's JSON description used to label
// jobs before any bytes move.
type Metadata struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Thumbnail string        `json:"thumbnail"`
	Duration  time.Duration `json:"-"`
	Uploader  string        `json:"uploader"`
}

// FetchMetadata asks the downloader to describe locator. It is bounded by
// the controller's metadata timeout.
func (c *Controller) FetchMetadata(ctx context.Context, locator string) (Metadata, error) {
	argv, err := args.BuildMetadata(locator, c.policy)
	if err != nil {
		return Metadata{}, toolerr.New(toolerr.KindInvalidRequest, err.Error(), err)
	}
	out, err := c.collect(ctx, c.tools.Downloader, argv, c.metadataTimeout)
	if err != nil {
		return Metadata{}, err
	}

	var raw struct {
		Metadata
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal([]byte(strings.Join(out, "\n")), &raw); err != nil {
		return Metadata{}, toolerr.New(toolerr.KindNoResultFound, "could not read media information", err)
	}
	md := raw.Metadata
	md.Duration = time.Duration(raw.Duration * float64(time.Second))
	return md, nil
}

// ProbeDuration reads the media duration of a local file with the prober.
func (c *Controller) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	argv, err := args.BuildProbe(path)
	if err != nil {
		return 0, err
	}
	out, err := c.collect(ctx, c.tools.Prober, argv, c.metadataTimeout)
	if err != nil {
		return 0, err
	}
	for _, line := range out {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(line), 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
	}
	return 0, fmt.Errorf("no duration reported for %s", path)
}

// collect runs a short-lived tool and returns its stdout lines.
func (c *Controller) collect(ctx context.Context, tool string, argv []string, timeout time.Duration) ([]string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	proc, err := c.launcher.Launch(ctx, tool, argv, nil)
	if err != nil {
		return nil, err
	}

	stderrDone := make(chan []string)
	go func() {
		var lines []string
		for l := range proc.Stderr() {
			lines = append(lines, l)
		}
		stderrDone <- lines
	}()
	var out []string
	for l := range proc.Stdout() {
		out = append(out, l)
	}
	diag := <-stderrDone
	status := proc.Wait()

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, toolerr.New(toolerr.KindToolReportedFailure, tool+" timed out", err)
		}
		return nil, toolerr.New(toolerr.KindCancelled, "cancelled", err)
	}
	if !status.Success() {
		return nil, toolerr.FromDiagnostics(diag, exitError(status))
	}
	return out, nil
}

func exitError(s launcher.ExitStatus) error {
	if s.Err != nil {
		return s.Err
	}
	return fmt.Errorf("exit status %d", s.Code)
}
