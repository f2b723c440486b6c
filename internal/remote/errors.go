package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrConnectivityLost marks requests that could not reach the backend at all.
	ErrConnectivityLost = errors.New("connectivity lost")
	// ErrAuthenticationFailed marks a 401 that survived one credential refresh.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrBackendRejected marks 4xx responses other than 401. Not retried.
	ErrBackendRejected = errors.New("backend rejected request")
	// ErrBackendUnavailable marks 5xx responses and timeouts. Retried by callers.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Kind is the coarse failure category used by retry policy.
type Kind string

const (
	KindNone                 Kind = ""
	KindConnectivityLost     Kind = "connectivity_lost"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindBackendRejected      Kind = "backend_rejected"
	KindBackendUnavailable   Kind = "backend_unavailable"
	KindCancelled            Kind = "cancelled"
	KindUnknown              Kind = "unknown"
)

// Retryable reports whether automatic retry may help.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnectivityLost, KindBackendUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}

// Classify maps err onto the failure taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConnectivityLost):
		return KindConnectivityLost
	case errors.Is(err, ErrAuthenticationFailed):
		return KindAuthenticationFailed
	case errors.Is(err, ErrBackendRejected):
		return KindBackendRejected
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindUnknown
	}
}

// StatusError describes a non-2xx backend response.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s returned %d", e.Method, e.Endpoint, e.StatusCode)
	if body := strings.TrimSpace(e.Body); body != "" {
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		msg += ": " + body
	}
	return msg
}

// Unwrap maps the status code onto the sentinel taxonomy.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrAuthenticationFailed
	case e.StatusCode >= 500:
		return ErrBackendUnavailable
	case e.StatusCode >= 400:
		return ErrBackendRejected
	default:
		return nil
	}
}

// Wrap builds an error message that includes operation context while tagging it with
// the provided marker for later classification.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrBackendUnavailable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "request failure"
	}
	return strings.Join(parts, ": ")
}
