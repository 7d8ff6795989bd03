package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name    string
		line    string
		want    Partial
		matched bool
	}{
		{
			name:    "percent with estimate",
			line:    "[download]  45.0% of ~ 123.45MiB at 1.23MiB/s ETA 00:12 (frag 3/40)",
			want:    Partial{Percent: 45, HasPercent: true, TotalBytes: 129446707, Speed: "1.23MiB/s", ETA: "00:12"},
			matched: true,
		},
		{
			name:    "percent complete",
			line:    "[download] 100% of   10.00MiB in 00:00:05 at 2.00MiB/s",
			want:    Partial{Percent: 100, HasPercent: true, TotalBytes: 10 * 1024 * 1024, Speed: "2.00MiB/s"},
			matched: true,
		},
		{
			name:    "unknown speed and eta",
			line:    "[download]   0.0% of 50.00MiB at  Unknown B/s ETA Unknown",
			want:    Partial{Percent: 0, HasPercent: true, TotalBytes: 50 * 1024 * 1024},
			matched: true,
		},
		{
			name:    "byte counter is not zero percent",
			line:    "[download]   12.00MiB at    1.50MiB/s (00:00:08)",
			want:    Partial{DownloadedBytes: 12 * 1024 * 1024, Speed: "1.50MiB/s", Elapsed: "00:00:08"},
			matched: true,
		},
		{
			name:    "playlist item",
			line:    "[download] Downloading item 3 of 12",
			want:    Partial{ItemIndex: 3, ItemCount: 12},
			matched: true,
		},
		{
			name:    "legacy playlist marker",
			line:    "[download] Downloading video 2 of 5",
			want:    Partial{ItemIndex: 2, ItemCount: 5},
			matched: true,
		},
		{
			name:    "destination",
			line:    "[download] Destination: /media/My Clip [abc123].f137.mp4",
			want:    Partial{Destination: "/media/My Clip [abc123].f137.mp4"},
			matched: true,
		},
		{
			name:    "extract audio destination",
			line:    "[ExtractAudio] Destination: /media/Song [x1].mp3",
			want:    Partial{Destination: "/media/Song [x1].mp3"},
			matched: true,
		},
		{
			name:    "merger",
			line:    `[Merger] Merging formats into "/media/My Clip [abc123].mp4"`,
			want:    Partial{FinalPath: "/media/My Clip [abc123].mp4"},
			matched: true,
		},
		{
			name:    "move files",
			line:    `[MoveFiles] Moving file "/tmp/a.mp4" to "/media/a.mp4"`,
			want:    Partial{FinalPath: "/media/a.mp4"},
			matched: true,
		},
		{
			name:    "already downloaded",
			line:    "[download] /media/Old [zz].mp4 has already been downloaded",
			want:    Partial{FinalPath: "/media/Old [zz].mp4", Percent: 100, HasPercent: true},
			matched: true,
		},
		{
			name:    "transcoder time",
			line:    "out_time_us=2500000",
			want:    Partial{OutTime: 2500 * time.Millisecond, HasOutTime: true},
			matched: true,
		},
		{
			name:    "transcoder size",
			line:    "total_size=1048576",
			want:    Partial{DownloadedBytes: 1048576},
			matched: true,
		},
		{
			name:    "transcoder speed",
			line:    "speed=1.75x",
			want:    Partial{Speed: "1.75x"},
			matched: true,
		},
		{
			name:    "transcoder end",
			line:    "progress=end",
			want:    Partial{Done: true, Percent: 100, HasPercent: true},
			matched: true,
		},
		{name: "info noise", line: "[youtube] abc123: Downloading webpage"},
		{name: "blank", line: "   "},
		{name: "transcoder n/a time", line: "out_time_us=N/A"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Classify(tc.line)
			assert.Equal(t, tc.matched, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	lines := []string{
		"[download]  45.0% of ~ 123.45MiB at 1.23MiB/s ETA 00:12",
		"[download] Downloading item 3 of 12",
		"[download] Destination: /media/x.mp4",
	}
	for _, line := range lines {
		first, ok1 := Classify(line)
		second, ok2 := Classify(line)
		assert.Equal(t, ok1, ok2)
		assert.Equal(t, first, second)
	}
}

func TestMatchersAreIndependent(t *testing.T) {
	// Each matcher only claims its own encoding.
	samples := map[string]string{
		"destination":        "[download] Destination: /a.mp4",
		"already-downloaded": "[download] /a.mp4 has already been downloaded",
		"merger":             `[Merger] Merging formats into "/a.mp4"`,
		"playlist-item":      "[download] Downloading item 1 of 2",
		"percent":            "[download]  10.0% of 1.00MiB at 1.00KiB/s ETA 00:01",
		"byte-counter":       "[download]   1.00MiB at 1.00KiB/s (00:01)",
		"transcode-time":     "out_time_us=1",
		"transcode-size":     "total_size=1",
		"transcode-speed":    "speed=1x",
		"transcode-status":   "progress=continue",
	}
	for _, m := range Matchers {
		for name, line := range samples {
			_, ok := m.Match(line)
			assert.Equal(t, m.Name == name, ok, "matcher %s on %s sample", m.Name, name)
		}
	}
}

func TestTitleFromPath(t *testing.T) {
	assert.Equal(t, "My Clip", TitleFromPath("/media/My Clip [abc123].f137.mp4"))
	assert.Equal(t, "My Clip", TitleFromPath("/media/My Clip [abc123].mp4"))
	assert.Equal(t, "plain", TitleFromPath("plain.webm"))
}
