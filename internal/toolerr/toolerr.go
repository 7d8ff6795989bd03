// Package toolerr classifies failures of external tool runs.
package toolerr

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

type Kind string

const (
	KindBinaryNotFound      Kind = "binary_not_found"
	KindSpawnFailure        Kind = "spawn_failure"
	KindTransientUpstream   Kind = "transient_upstream"
	KindNoResultFound       Kind = "no_result_found"
	KindCancelled           Kind = "cancelled"
	KindToolReportedFailure Kind = "tool_reported_failure"
	KindInvalidRequest      Kind = "invalid_request"
)

// Error is a classified failure. Message is short and meant for users.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err. Context cancellation maps to cancelled and
// unclassified errors map to tool_reported_failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindToolReportedFailure
}

// IsTransient reports whether a retry might succeed.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientUpstream
}

var transientPatterns = regexp.MustCompile(`(?i)(HTTP Error 429|Too Many Requests|rate[- ]limit|HTTP Error 503|Service Unavailable)`)

// FromDiagnostics classifies a non-zero exit from the tool's stderr lines.
func FromDiagnostics(lines []string, exitErr error) *Error {
	relevant := RelevantLine(lines)
	for _, l := range lines {
		if transientPatterns.MatchString(l) {
			if relevant == "" {
				relevant = strings.TrimSpace(l)
			}
			return New(KindTransientUpstream, relevant, exitErr)
		}
	}
	if relevant == "" {
		relevant = "tool exited with an error"
		if exitErr != nil {
			relevant = exitErr.Error()
		}
	}
	return New(KindToolReportedFailure, relevant, exitErr)
}

// RelevantLine picks the line a user should see: the last "ERROR:" line, or
// the last non-empty line when the tool printed none.
func RelevantLine(lines []string) string {
	lastNonEmpty := ""
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" {
			continue
		}
		if strings.HasPrefix(l, "ERROR:") {
			return l
		}
		if lastNonEmpty == "" {
			lastNonEmpty = l
		}
	}
	return lastNonEmpty
}
