// Package util holds filesystem helpers shared by the API, the CLI and the
// download worker.
package util

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidFolder wraps every rejection of a user supplied folder.
var ErrInvalidFolder = errors.New("invalid folder path")

var (
	controlChars    = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	reservedChars   = regexp.MustCompile(`[\\/:*?"<>|]`)
	repeatedDashes  = regexp.MustCompile(`-+`)
	windowsDrive    = regexp.MustCompile(`^[A-Za-z]:`)
	reservedWinName = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
		"COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
		"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}
)

// OutputFolder checks a folder that must live under base, creates it when
// missing and returns the sanitized relative form to store.
func OutputFolder(base, folder string) (string, error) {
	rel, err := CleanRelative(folder)
	if err != nil {
		return "", err
	}
	if err := EnsureWritableDir(filepath.Join(base, rel)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFolder, err)
	}
	return rel, nil
}

// CleanRelative rejects absolute paths and any ".." component, then
// sanitizes what is left. Both separators are accepted.
func CleanRelative(folder string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(folder), "\\", "/")
	if normalized == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFolder)
	}
	if path.IsAbs(normalized) || windowsDrive.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q must be relative to the download directory", ErrInvalidFolder, folder)
	}
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q leaves the download directory", ErrInvalidFolder, folder)
		}
	}
	clean := SanitizeFolderPath(normalized)
	if clean == "" {
		return "", fmt.Errorf("%w: %q has no usable name", ErrInvalidFolder, folder)
	}
	return clean, nil
}

// EnsureWritableDir creates dir if needed and verifies a file can be written
// into it.
func EnsureWritableDir(dir string) error {
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".mediaflow-probe-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// SanitizeFolderPath sanitizes every component of a slash or backslash
// separated path and joins them with the OS separator. Empty, "." and ".."
// components are dropped.
func SanitizeFolderPath(folderPath string) string {
	parts := strings.Split(strings.ReplaceAll(folderPath, "\\", "/"), "/")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		if name := SanitizeFolderName(part); name != "" {
			clean = append(clean, name)
		}
	}
	return strings.Join(clean, string(os.PathSeparator))
}

// SanitizeFolderName makes one path component safe on Windows, macOS and
// Linux.
func SanitizeFolderName(name string) string {
	safe := controlChars.ReplaceAllString(name, "")
	safe = reservedChars.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, " .")
	safe = repeatedDashes.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, "-")
	if reservedWinName[strings.ToUpper(safe)] {
		safe += "_"
	}
	return safe
}
