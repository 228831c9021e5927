package downloader

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError marks bad input. It is surfaced immediately and
// never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NetworkError marks a transient transport failure from the external
// tool. Retried with backoff.
type NetworkError struct {
	Message string
}

func (e *NetworkError) Error() string { return e.Message }

// ProcessingError marks a transient failure inside the external tool.
// Retried with backoff.
type ProcessingError struct {
	Message string
}

func (e *ProcessingError) Error() string { return e.Message }

// Retryable reports whether the error class qualifies for another
// attempt.
func Retryable(err error) bool {
	switch err.(type) {
	case *NetworkError, *ProcessingError:
		return true
	default:
		return false
	}
}

// ValidateURL applies the lightweight submission-time check: parseable,
// http(s), and a host present. Full provider pattern matching is the
// frontend's concern.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid URL: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Message: "URL must use http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Message: "URL is missing a host"}
	}
	return nil
}

var networkMarkers = []string{
	"timed out",
	"timeout",
	"connection reset",
	"connection refused",
	"temporary failure",
	"network is unreachable",
	"http error 5",
	"unable to download",
}

var validationMarkers = []string{
	"unsupported url",
	"is not a valid url",
	"http error 404",
	"http error 403",
	"video unavailable",
}

// classify maps the tool's stderr tail onto the error taxonomy.
// Unknown failures are treated as processing errors, which retry.
func classify(stderrTail string) error {
	lower := strings.ToLower(stderrTail)
	for _, m := range validationMarkers {
		if strings.Contains(lower, m) {
			return &ValidationError{Message: trimTail(stderrTail)}
		}
	}
	for _, m := range networkMarkers {
		if strings.Contains(lower, m) {
			return &NetworkError{Message: trimTail(stderrTail)}
		}
	}
	return &ProcessingError{Message: trimTail(stderrTail)}
}

func trimTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 500 {
		s = s[len(s)-500:]
	}
	if s == "" {
		s = "external process failed"
	}
	return s
}
