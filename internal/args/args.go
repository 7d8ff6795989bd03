// Package args turns job requests into the command-line tokens passed to the
// external downloader and transcoder. Every function here is pure: the same
// input always yields the same slice.
package args

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/vrsandeep/mediaflow/internal/models"
)

// ErrFlagLikeValue is returned when a user-supplied value would be read as a
// command-line flag.
var ErrFlagLikeValue = errors.New("value must not start with '-'")

const DefaultOutputTemplate = "%(title)s [%(id)s].%(ext)s"

// Terminator separates flags from positional values.
const Terminator = "--"

var codecPattern = regexp.MustCompile(`^[a-z0-9.]+$`)

var codecAliases = map[string]string{
	"h264": "avc1",
	"avc":  "avc1",
	"h265": "hvc1",
	"hevc": "hvc1",
	"av1":  "av01",
	"vp9":  "vp09",
}

var audioFormats = map[string]bool{
	"mp3":  true,
	"m4a":  true,
	"opus": true,
	"flac": true,
	"wav":  true,
	"aac":  true,
}

var mergeFormats = map[string]bool{
	"mp4":  true,
	"mkv":  true,
	"webm": true,
}

// CheckValue rejects values that start with a flag prefix.
func CheckValue(field, v string) error {
	if strings.HasPrefix(strings.TrimSpace(v), "-") {
		return fmt.Errorf("%s %q: %w", field, v, ErrFlagLikeValue)
	}
	return nil
}

// NetworkPolicy carries the caller's proxy and cookie settings. It is always
// passed explicitly so no global state leaks into an argument list.
type NetworkPolicy struct {
	Proxy              string
	CookiesFile        string
	CookiesFromBrowser string
}

// Args returns the downloader flags for the policy. A cookies file wins over
// browser cookies when both are set.
func (p NetworkPolicy) Args() ([]string, error) {
	var out []string
	if p.Proxy != "" {
		if err := CheckValue("proxy", p.Proxy); err != nil {
			return nil, err
		}
		out = append(out, "--proxy", p.Proxy)
	}
	switch {
	case p.CookiesFile != "":
		if err := CheckValue("cookies file", p.CookiesFile); err != nil {
			return nil, err
		}
		out = append(out, "--cookies", p.CookiesFile)
	case p.CookiesFromBrowser != "":
		if err := CheckValue("cookies browser", p.CookiesFromBrowser); err != nil {
			return nil, err
		}
		out = append(out, "--cookies-from-browser", p.CookiesFromBrowser)
	}
	return out, nil
}

// NormalizeCodec maps user codec names to the prefix the downloader reports
// in vcodec. Unknown codecs pass through lowercased.
func NormalizeCodec(codec string) string {
	c := strings.ToLower(strings.TrimSpace(codec))
	if alias, ok := codecAliases[c]; ok {
		return alias
	}
	return c
}

// IsAudioFormat reports whether format asks for audio extraction.
func IsAudioFormat(format string) bool {
	return audioFormats[strings.ToLower(format)]
}

// FormatSelector builds the -f expression. Preference order for a height H and
// codec C:
//
//	bv*[height<=H][vcodec^=C]+ba   requested height and codec
//	bv*[height<=H]+ba              any codec at that height
//	b[height<=H]                   pre-merged stream at that height
//	bv*+ba                         best video and audio
//	b                              best single file
//
// Without a codec the first step is dropped; with quality "best" or empty the
// height filters are dropped.
func FormatSelector(quality, codec string) (string, error) {
	q := strings.ToLower(strings.TrimSpace(quality))
	if q == "audio" {
		return "ba/b", nil
	}
	c := NormalizeCodec(codec)
	if c != "" && !codecPattern.MatchString(c) {
		return "", fmt.Errorf("invalid codec %q", codec)
	}

	height := ""
	if q != "" && q != "best" {
		h, err := strconv.Atoi(strings.TrimSuffix(q, "p"))
		if err != nil || h <= 0 {
			return "", fmt.Errorf("invalid quality %q", quality)
		}
		height = fmt.Sprintf("[height<=%d]", h)
	}

	var chain []string
	if c != "" {
		chain = append(chain, fmt.Sprintf("bv*%s[vcodec^=%s]+ba", height, c))
	}
	if height != "" {
		chain = append(chain, "bv*"+height+"+ba", "b"+height)
	}
	chain = append(chain, "bv*+ba", "b")
	return strings.Join(chain, "/"), nil
}

// BuildDownload composes the downloader arguments for a job. The locator is
// always the last token, behind the terminator.
func BuildDownload(req models.JobRequest, policy NetworkPolicy) ([]string, error) {
	if req.Locator == "" {
		return nil, errors.New("locator is required")
	}
	if err := CheckValue("locator", req.Locator); err != nil {
		return nil, err
	}

	out := []string{"--newline", "--no-colors", "--progress", "--ignore-config"}

	format := strings.ToLower(req.Format)
	if IsAudioFormat(format) || strings.EqualFold(req.Quality, "audio") {
		if format == "" || !IsAudioFormat(format) {
			format = "mp3"
		}
		out = append(out, "-f", "ba/b", "-x", "--audio-format", format, "--audio-quality", "0")
	} else {
		selector, err := FormatSelector(req.Quality, req.Codec)
		if err != nil {
			return nil, err
		}
		out = append(out, "-f", selector)
		if format != "" {
			if !mergeFormats[format] {
				return nil, fmt.Errorf("unsupported container %q", req.Format)
			}
			out = append(out, "--merge-output-format", format)
		}
	}

	tmpl := req.OutputTemplate
	if tmpl == "" {
		tmpl = DefaultOutputTemplate
	}
	if req.OutputDir != "" {
		tmpl = filepath.Join(req.OutputDir, tmpl)
	}
	if err := CheckValue("output template", tmpl); err != nil {
		return nil, err
	}
	out = append(out, "-o", tmpl)

	subs, err := subtitleArgs(req.Subtitles, req.SubtitleLangs)
	if err != nil {
		return nil, err
	}
	out = append(out, subs...)

	if req.Playlist {
		out = append(out, "--yes-playlist")
		if req.PlaylistStart > 0 {
			out = append(out, "--playlist-start", strconv.Itoa(req.PlaylistStart))
		}
		if req.PlaylistEnd > 0 {
			if req.PlaylistStart > 0 && req.PlaylistEnd < req.PlaylistStart {
				return nil, fmt.Errorf("playlist end %d before start %d", req.PlaylistEnd, req.PlaylistStart)
			}
			out = append(out, "--playlist-end", strconv.Itoa(req.PlaylistEnd))
		}
	} else {
		out = append(out, "--no-playlist")
	}

	netArgs, err := policy.Args()
	if err != nil {
		return nil, err
	}
	out = append(out, netArgs...)

	return append(out, Terminator, req.Locator), nil
}

func subtitleArgs(mode models.SubtitleMode, langs []string) ([]string, error) {
	if mode == "" || mode == models.SubtitlesNone {
		return nil, nil
	}
	var out []string
	switch mode {
	case models.SubtitlesEmbed:
		out = []string{"--write-subs", "--embed-subs"}
	case models.SubtitlesSeparate:
		out = []string{"--write-subs"}
	case models.SubtitlesAuto:
		out = []string{"--write-subs", "--write-auto-subs", "--embed-subs"}
	default:
		return nil, fmt.Errorf("unknown subtitle mode %q", mode)
	}
	if len(langs) == 0 {
		return append(out, "--sub-langs", "en.*"), nil
	}
	for _, l := range langs {
		if err := CheckValue("subtitle language", l); err != nil {
			return nil, err
		}
	}
	return append(out, "--sub-langs", strings.Join(langs, ",")), nil
}

// BuildFetch lists the newest limit entries of a source as one JSON object
// per line without resolving formats.
func BuildFetch(locator string, limit int, policy NetworkPolicy) ([]string, error) {
	if err := CheckValue("locator", locator); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("fetch limit must be positive, got %d", limit)
	}
	out := []string{"--flat-playlist", "--dump-json", "--no-warnings", "--ignore-config",
		"--playlist-end", strconv.Itoa(limit)}
	netArgs, err := policy.Args()
	if err != nil {
		return nil, err
	}
	out = append(out, netArgs...)
	return append(out, Terminator, locator), nil
}

// BuildMetadata asks for a single JSON document describing the locator.
func BuildMetadata(locator string, policy NetworkPolicy) ([]string, error) {
	if err := CheckValue("locator", locator); err != nil {
		return nil, err
	}
	out := []string{"--dump-single-json", "--no-playlist", "--skip-download", "--no-warnings", "--ignore-config"}
	netArgs, err := policy.Args()
	if err != nil {
		return nil, err
	}
	out = append(out, netArgs...)
	return append(out, Terminator, locator), nil
}
