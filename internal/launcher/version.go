package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const versionTimeout = 10 * time.Second

var versionToken = regexp.MustCompile(`v?\d+(?:\.\d+)+`)

// Version runs the binary with --version (or -version for the ffmpeg family)
// and returns the first version-looking token it prints.
func Version(ctx context.Context, b Binary) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	flag := "--version"
	if strings.HasPrefix(b.Name, "ff") {
		flag = "-version"
	}
	out, err := exec.CommandContext(ctx, b.Path, flag).Output()
	if err != nil {
		return "", fmt.Errorf("failed to query %s version: %w", b.Name, err)
	}
	v := versionToken.FindString(string(out))
	if v == "" {
		return "", fmt.Errorf("no version in %s output", b.Name)
	}
	return v, nil
}

// NormalizeVersion turns tool versions like "2024.08.06" into valid semantic
// versions by dropping leading zeros and the "v" prefix.
func NormalizeVersion(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	parts := strings.Split(v, ".")
	for i, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			parts[i] = strconv.Itoa(n)
		}
	}
	return strings.Join(parts, ".")
}

// CompareVersions compares two version strings semantically.
// Returns:
// - -1 if v1 < v2
// - 0 if v1 == v2
// - 1 if v1 > v2
// - error if either version string is invalid
func CompareVersions(v1, v2 string) (int, error) {
	version1, err := semver.NewVersion(NormalizeVersion(v1))
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", v1, err)
	}

	version2, err := semver.NewVersion(NormalizeVersion(v2))
	if err != nil {
		return 0, fmt.Errorf("invalid version %s: %w", v2, err)
	}

	return version1.Compare(version2), nil
}

// CheckMinVersion returns the installed version and an error when it is older
// than min. An empty min accepts anything.
func CheckMinVersion(ctx context.Context, b Binary, min string) (string, error) {
	v, err := Version(ctx, b)
	if err != nil {
		return "", err
	}
	if min == "" {
		return v, nil
	}
	cmp, err := CompareVersions(v, min)
	if err != nil {
		return v, err
	}
	if cmp < 0 {
		return v, fmt.Errorf("%s %s is older than required %s", b.Name, v, min)
	}
	return v, nil
}
