package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/launcher"
	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/toolerr"
)

// FetchResult is one incremental listing, newest first.
type FetchResult struct {
	Items []models.DiscoveredItem
	// ReachedWatermark is set when the listing stopped at the watermark item.
	ReachedWatermark bool
}

// Fetcher lists the newest entries of a source.
type Fetcher interface {
	Fetch(ctx context.Context, src *models.FollowedSource, limit int) (FetchResult, error)
}

// ToolFetcher lists sources with the downloader's flat-playlist mode.
type ToolFetcher struct {
	Launcher launcher.Launcher
	Policy   args.NetworkPolicy
	Tool     string
	Timeout  time.Duration
}

// flatEntry is one line of the downloader's flat-playlist JSON output.
type flatEntry struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
	Duration   float64 `json:"duration"`
	Timestamp  int64   `json:"timestamp"`
	Thumbnail  string  `json:"thumbnail"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

func (e flatEntry) item(sourceID int64, now time.Time) models.DiscoveredItem {
	item := models.DiscoveredItem{
		SourceID:     sourceID,
		ItemID:       e.ID,
		Title:        e.Title,
		Locator:      e.WebpageURL,
		Thumbnail:    e.Thumbnail,
		Duration:     time.Duration(e.Duration * float64(time.Second)),
		DiscoveredAt: now,
	}
	if item.Locator == "" {
		item.Locator = e.URL
	}
	if item.Thumbnail == "" && len(e.Thumbnails) > 0 {
		// Thumbnails are listed smallest first.
		item.Thumbnail = e.Thumbnails[len(e.Thumbnails)-1].URL
	}
	if e.Timestamp > 0 {
		t := time.Unix(e.Timestamp, 0).UTC()
		item.PublishedAt = &t
	}
	return item
}

// Fetch stops reading, and terminates the tool, as soon as the source's
// watermark item shows up.
func (f *ToolFetcher) Fetch(ctx context.Context, src *models.FollowedSource, limit int) (FetchResult, error) {
	argv, err := args.BuildFetch(src.Locator, limit, f.Policy)
	if err != nil {
		return FetchResult{}, toolerr.New(toolerr.KindInvalidRequest, err.Error(), err)
	}
	tool := f.Tool
	if tool == "" {
		tool = "yt-dlp"
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	proc, err := f.Launcher.Launch(ctx, tool, argv, nil)
	if err != nil {
		return FetchResult{}, err
	}
	stderrDone := make(chan []string)
	go func() {
		var lines []string
		for l := range proc.Stderr() {
			lines = append(lines, l)
		}
		stderrDone <- lines
	}()

	var res FetchResult
	now := time.Now()
	for line := range proc.Stdout() {
		if res.ReachedWatermark {
			continue
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var e flatEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.ID == "" {
			continue
		}
		if src.LastSeenItemID != "" && e.ID == src.LastSeenItemID {
			res.ReachedWatermark = true
			proc.Terminate()
			continue
		}
		res.Items = append(res.Items, e.item(src.ID, now))
	}
	diag := <-stderrDone
	status := proc.Wait()

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return FetchResult{}, toolerr.New(toolerr.KindToolReportedFailure,
				fmt.Sprintf("listing %s timed out", src.Locator), err)
		}
		return FetchResult{}, toolerr.New(toolerr.KindCancelled, "cancelled", err)
	}
	if res.ReachedWatermark {
		return res, nil
	}
	if !status.Success() {
		var exitErr error = status.Err
		if exitErr == nil {
			exitErr = fmt.Errorf("exit status %d", status.Code)
		}
		return FetchResult{}, toolerr.FromDiagnostics(diag, exitErr)
	}
	return res, nil
}
