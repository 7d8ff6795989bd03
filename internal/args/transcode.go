package args

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vrsandeep/mediaflow/internal/models"
)

var videoEncoders = map[string]string{
	"":     "libx264",
	"avc1": "libx264",
	"hvc1": "libx265",
	"av01": "libsvtav1",
	"vp09": "libvpx-vp9",
}

// TranscodeOutput returns the output path for a transcode request, deriving
// "<name>-transcoded.<ext>" next to the input when none was given.
func TranscodeOutput(req models.JobRequest) string {
	if req.Output != "" {
		return req.Output
	}
	ext := strings.ToLower(req.Format)
	if ext == "" {
		ext = "mp4"
	}
	base := strings.TrimSuffix(filepath.Base(req.Locator), filepath.Ext(req.Locator))
	dir := req.OutputDir
	if dir == "" {
		dir = filepath.Dir(req.Locator)
	}
	return filepath.Join(dir, base+"-transcoded."+ext)
}

// BuildTranscode composes the transcoder arguments. Progress is written as
// key=value lines on stdout.
func BuildTranscode(req models.JobRequest) ([]string, error) {
	if req.Locator == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if err := CheckValue("input", req.Locator); err != nil {
		return nil, err
	}
	output := TranscodeOutput(req)
	if err := CheckValue("output", output); err != nil {
		return nil, err
	}
	if filepath.Clean(output) == filepath.Clean(req.Locator) {
		return nil, fmt.Errorf("output %q would overwrite the input", output)
	}

	out := []string{"-hide_banner", "-nostdin", "-y", "-i", req.Locator}

	if IsAudioFormat(req.Format) || strings.EqualFold(req.Quality, "audio") {
		out = append(out, "-vn")
		out = append(out, audioEncoder(strings.ToLower(req.Format))...)
	} else {
		q := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(req.Quality), "p"))
		if q != "" && q != "best" {
			h, err := strconv.Atoi(q)
			if err != nil || h <= 0 {
				return nil, fmt.Errorf("invalid quality %q", req.Quality)
			}
			out = append(out, "-vf", fmt.Sprintf("scale=-2:%d", h))
		}
		encoder, ok := videoEncoders[NormalizeCodec(req.Codec)]
		if !ok {
			return nil, fmt.Errorf("unsupported codec %q", req.Codec)
		}
		out = append(out, "-c:v", encoder, "-preset", "medium", "-crf", "23", "-c:a", "aac", "-b:a", "128k")
		if strings.HasSuffix(strings.ToLower(output), ".mp4") {
			out = append(out, "-movflags", "+faststart")
		}
	}

	return append(out, "-progress", "pipe:1", "-nostats", output), nil
}

func audioEncoder(format string) []string {
	switch format {
	case "flac":
		return []string{"-c:a", "flac"}
	case "wav":
		return []string{"-c:a", "pcm_s16le"}
	case "opus":
		return []string{"-c:a", "libopus", "-b:a", "160k"}
	case "m4a", "aac":
		return []string{"-c:a", "aac", "-b:a", "192k"}
	default:
		return []string{"-c:a", "libmp3lame", "-q:a", "2"}
	}
}

// BuildProbe asks the prober for the container duration in seconds.
func BuildProbe(path string) ([]string, error) {
	if err := CheckValue("input", path); err != nil {
		return nil, err
	}
	return []string{"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path}, nil
}
