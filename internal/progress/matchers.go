// Package progress classifies the line-oriented output of the downloader and
// the transcoder into partial progress updates, and folds those partials into
// a running per-job state.
package progress

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
)

// Partial is what one line says about a job. Only fields whose Has flag is set
// or whose value is non-zero carry information.
type Partial struct {
	Percent    float64
	HasPercent bool
	Speed      string
	ETA        string

	// TotalBytes is the size the tool reports for the stream being transferred.
	TotalBytes int64
	// DownloadedBytes comes from byte-counter lines of live sources and from
	// the transcoder's total_size key.
	DownloadedBytes int64
	Elapsed         string

	ItemIndex int
	ItemCount int

	// Destination is an intermediate or final output path. FinalPath is set
	// only when the tool announces the finished artifact.
	Destination string
	FinalPath   string

	OutTime    time.Duration
	HasOutTime bool
	Done       bool
}

// Progressing reports whether the partial shows data actually moving.
func (p Partial) Progressing() bool {
	return p.HasPercent || p.DownloadedBytes > 0 || p.HasOutTime
}

// Matcher recognizes one line encoding.
type Matcher struct {
	Name  string
	Match func(line string) (Partial, bool)
}

var (
	destinationRe     = regexp.MustCompile(`^\[(?:download|ExtractAudio|VideoConvertor|Fixup\w*)\]\s+Destination:\s+(.+)$`)
	alreadyRe         = regexp.MustCompile(`^\[download\]\s+(.+?)\s+has already been downloaded`)
	mergerRe          = regexp.MustCompile(`^\[Merger\]\s+Merging formats into\s+"(.+)"$`)
	moveFilesRe       = regexp.MustCompile(`^\[MoveFiles\]\s+Moving file\s+"(.+)"\s+to\s+"(.+)"$`)
	itemRe            = regexp.MustCompile(`^\[download\]\s+Downloading (?:item|video)\s+(\d+)\s+of\s+(\d+)`)
	percentRe         = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)
	ofSizeRe          = regexp.MustCompile(`\sof\s+~?\s*(\d+(?:\.\d+)?\s*[KMGTP]?i?B)\b`)
	speedRe           = regexp.MustCompile(`\sat\s+(\d+(?:\.\d+)?\s*[KMGTP]?i?B/s|Unknown B/s)`)
	etaRe             = regexp.MustCompile(`\sETA\s+(\S+)`)
	byteCounterRe     = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?\s*[KMGTP]?i?B)\s+at\s+(\S+(?:\s+B/s)?)\s+\((\d+:\d{2}(?::\d{2})?)\)`)
	outTimeUsRe       = regexp.MustCompile(`^out_time_(?:us|ms)=(\d+)$`)
	totalSizeRe       = regexp.MustCompile(`^total_size=(\d+)$`)
	transcodeSpeedRe  = regexp.MustCompile(`^speed=\s*(\d+(?:\.\d+)?x)$`)
	transcodeStatusRe = regexp.MustCompile(`^progress=(end|continue)$`)
)

// Matchers in precedence order. Classify stops at the first match.
var Matchers = []Matcher{
	{Name: "destination", Match: matchDestination},
	{Name: "already-downloaded", Match: matchAlreadyDownloaded},
	{Name: "merger", Match: matchMerger},
	{Name: "playlist-item", Match: matchItem},
	{Name: "percent", Match: matchPercent},
	{Name: "byte-counter", Match: matchByteCounter},
	{Name: "transcode-time", Match: matchOutTime},
	{Name: "transcode-size", Match: matchTotalSize},
	{Name: "transcode-speed", Match: matchTranscodeSpeed},
	{Name: "transcode-status", Match: matchTranscodeStatus},
}

// Classify maps a single output line to a partial update. Lines no matcher
// recognizes return false and are meant to be ignored.
func Classify(line string) (Partial, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Partial{}, false
	}
	for _, m := range Matchers {
		if p, ok := m.Match(line); ok {
			return p, true
		}
	}
	return Partial{}, false
}

func matchDestination(line string) (Partial, bool) {
	m := destinationRe.FindStringSubmatch(line)
	if m == nil {
		return Partial{}, false
	}
	return Partial{Destination: strings.TrimSpace(m[1])}, true
}

func matchAlreadyDownloaded(line string) (Partial, bool) {
	m := alreadyRe.FindStringSubmatch(line)
	if m == nil {
		return Partial{}, false
	}
	return Partial{FinalPath: m[1], Percent: 100, HasPercent: true}, true
}

func matchMerger(line string) (Partial, bool) {
	if m := mergerRe.FindStringSubmatch(line); m != nil {
		return Partial{FinalPath: m[1]}, true
	}
	if m := moveFilesRe.FindStringSubmatch(line); m != nil {
		return Partial{FinalPath: m[2]}, true
	}
	return Partial{}, false
}

func matchItem(line string) (Partial, bool) {
	m := itemRe.FindStringSubmatch(line)
	if m == nil {
		return Partial{}, false
	}
	idx, _ := strconv.Atoi(m[1])
	count, _ := strconv.Atoi(m[2])
	return Partial{ItemIndex: idx, ItemCount: count}, true
}

func matchPercent(line string) (Partial, bool) {
	m := percentRe.FindStringSubmatch(line)
	if m == nil {
		return Partial{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Partial{}, false
	}
	p := Partial{Percent: clamp(pct), HasPercent: true}
	if s := ofSizeRe.FindStringSubmatch(line); s != nil {
		p.TotalBytes = parseSize(s[1])
	}
	if s := speedRe.FindStringSubmatch(line); s != nil && s[1] != "Unknown B/s" {
		p.Speed = strings.ReplaceAll(s[1], " ", "")
	}
	if s := etaRe.FindStringSubmatch(line); s != nil && s[1] != "Unknown" {
		p.ETA = s[1]
	}
	return p, true
}

func matchByteCounter(line string) (Partial, bool) {
	m := byteCounterRe.FindStringSubmatch(line)
	if m == nil {
		return Partial{}, false
	}
	p := Partial{DownloadedBytes: parseSize(m[1]), Elapsed: m[3]}
	if m[2] != "Unknown B/s" {
		p.Speed = m[2]
	}
	return p, true
}

func matchOutTime(line string) (Partial, bool) {
	m := outTimeUsRe.FindStringSubmatch(line)
	if m == nil {
		return Partial{}, false
	}
	us, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Partial{}, false
	}
	return Partial{OutTime: time.Duration(us) * time.Microsecond, HasOutTime: true}, true
}

func matchTotalSize(line string) (Partial, bool) {
	m := totalSizeRe.FindStringSubmatch(line)
	if m == nil {
		return Partial{}, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Partial{}, false
	}
	return Partial{DownloadedBytes: n}, true
}

func matchTranscodeSpeed(line string) (Partial, bool) {
	m := transcodeSpeedRe.FindStringSubmatch(line)
	if m == nil {
		return Partial{}, false
	}
	return Partial{Speed: m[1]}, true
}

func matchTranscodeStatus(line string) (Partial, bool) {
	m := transcodeStatusRe.FindStringSubmatch(line)
	if m == nil {
		return Partial{}, false
	}
	if m[1] == "end" {
		return Partial{Done: true, Percent: 100, HasPercent: true}, true
	}
	return Partial{}, true
}

func parseSize(s string) int64 {
	n, err := units.RAMInBytes(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return 0
	}
	return n
}

func clamp(pct float64) float64 {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

var (
	formatSuffixRe = regexp.MustCompile(`\.f\d+$`)
	idSuffixRe     = regexp.MustCompile(`\s*\[[A-Za-z0-9_-]+\]$`)
)

// TitleFromPath recovers a human title from an output path written with the
// default "%(title)s [%(id)s].%(ext)s" template.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = formatSuffixRe.ReplaceAllString(base, "")
	base = idSuffixRe.ReplaceAllString(base, "")
	return strings.TrimSpace(base)
}
