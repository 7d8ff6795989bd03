package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mediaflow/internal/args"
	"github.com/vrsandeep/mediaflow/internal/launcher/launchertest"
	"github.com/vrsandeep/mediaflow/internal/models"
	"github.com/vrsandeep/mediaflow/internal/subscription"
	"github.com/vrsandeep/mediaflow/internal/toolerr"
)

func TestToolFetcher_ParsesListing(t *testing.T) {
	fl := launchertest.NewFakeLauncher(launchertest.FakeScript{Stdout: []string{
		"[youtube:tab] Downloading channel page",
		`{"id":"abc","title":"Hello","webpage_url":"https://example.com/watch?v=abc","url":"abc","duration":61.5,"timestamp":1700000000,"thumbnails":[{"url":"small.jpg"},{"url":"large.jpg"}]}`,
		`{"title":"no id"}`,
		`{"id":"def","title":"World","url":"https://example.com/watch?v=def"}`,
	}})
	f := &subscription.ToolFetcher{
		Launcher: fl,
		Policy:   args.NetworkPolicy{Proxy: "socks5://127.0.0.1:1080"},
		Tool:     "yt-dlp",
	}

	res, err := f.Fetch(context.Background(), &models.FollowedSource{ID: 3, Locator: "https://example.com/@c"}, 10)
	require.NoError(t, err)
	assert.False(t, res.ReachedWatermark)
	require.Len(t, res.Items, 2)

	first := res.Items[0]
	assert.Equal(t, int64(3), first.SourceID)
	assert.Equal(t, "abc", first.ItemID)
	assert.Equal(t, "https://example.com/watch?v=abc", first.Locator)
	assert.Equal(t, "large.jpg", first.Thumbnail)
	assert.Equal(t, 61500*time.Millisecond, first.Duration)
	require.NotNil(t, first.PublishedAt)
	assert.Equal(t, int64(1700000000), first.PublishedAt.Unix())
	assert.Equal(t, "https://example.com/watch?v=def", res.Items[1].Locator)

	call := fl.Calls()[0]
	assert.Equal(t, "yt-dlp", call.Name)
	assert.Contains(t, call.Args, "--flat-playlist")
	assert.Contains(t, call.Args, "socks5://127.0.0.1:1080")
	assert.Equal(t, []string{"--", "https://example.com/@c"}, call.Args[len(call.Args)-2:])
}

func TestToolFetcher_Timeout(t *testing.T) {
	fl := launchertest.NewFakeLauncher(launchertest.FakeScript{Hang: true})
	f := &subscription.ToolFetcher{Launcher: fl, Timeout: 30 * time.Millisecond}

	_, err := f.Fetch(context.Background(), &models.FollowedSource{Locator: "https://example.com/@c"}, 5)
	require.Error(t, err)
	assert.Equal(t, toolerr.KindToolReportedFailure, toolerr.KindOf(err))
}

func TestToolFetcher_RejectsFlagLikeLocator(t *testing.T) {
	f := &subscription.ToolFetcher{Launcher: launchertest.NewFakeLauncher()}
	_, err := f.Fetch(context.Background(), &models.FollowedSource{Locator: "--exec=sh"}, 5)
	require.Error(t, err)
	assert.Equal(t, toolerr.KindInvalidRequest, toolerr.KindOf(err))
}
