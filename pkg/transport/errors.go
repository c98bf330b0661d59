package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirosfoundation/go-ksef/pkg/message"
)

// APIError is returned for every non-2xx response
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
	RequestID  string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: unexpected status code %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status code %d: %s", e.Method, e.Path, e.StatusCode, body)
}

func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

func (e *APIError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// Exception decodes the authority's exception payload from the body, if any.
func (e *APIError) Exception() *message.Exception {
	var wrapper struct {
		Exception *message.Exception `json:"exception"`
	}
	if err := json.Unmarshal(e.Body, &wrapper); err != nil || wrapper.Exception == nil {
		return nil
	}
	return wrapper.Exception
}

// IsRateLimited reports whether err is an HTTP 429
func IsRateLimited(err error) bool {
	return hasStatus(err, http.StatusTooManyRequests)
}

// IsNotFound reports whether err is an HTTP 404
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
