package githubapi

import (
	"errors"
	"fmt"
)

// Error kinds. Every failed call is classified into exactly one of
// these. All kinds except KindRateLimited are terminal; rate limits
// are retried internally and only surface after retries run out.
const (
	KindUnauthorized     = "unauthorized"
	KindRateLimited      = "rate_limited"
	KindForbidden        = "forbidden"
	KindNotFound         = "not_found"
	KindValidationFailed = "validation_failed"
	KindUnknown          = "unknown"
)

// APIError is a classified failure from the GitHub API.
type APIError struct {
	Kind       string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("github api: %s (status %d): %s", e.Kind, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("github api: %s (status %d)", e.Kind, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ErrorKind returns the classification of err, or empty string when
// err is not an APIError.
func ErrorKind(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsNotFound reports whether err is a classified 404.
func IsNotFound(err error) bool {
	return ErrorKind(err) == KindNotFound
}

// IsRateLimited reports whether err is an exhausted rate limit.
func IsRateLimited(err error) bool {
	return ErrorKind(err) == KindRateLimited
}

// IsUnauthorized reports whether err is a 401.
func IsUnauthorized(err error) bool {
	return ErrorKind(err) == KindUnauthorized
}
