package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrAuth                = errors.New("authentication failed")
	ErrGeoRestricted       = errors.New("request blocked by geo restriction")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream temporarily unavailable")
	ErrBadUpstreamResponse = errors.New("bad upstream response")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
)

// Error is a failure reported by a remote party. It matches its Kind with errors.Is.
type Error struct {
	Kind       error
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status=%d: %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Degraded reports settlement failures that still allow serving the last stored payment state.
func Degraded(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrBadUpstreamResponse) ||
		errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrGeoRestricted)
}

// FromStatus maps an HTTP status of a remote response to an error kind. 2xx yields nil.
func FromStatus(statusCode int, message string, header http.Header) *Error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	e := &Error{StatusCode: statusCode, Message: strings.TrimSpace(message)}
	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		e.Kind = ErrValidation
	case statusCode == http.StatusUnauthorized:
		e.Kind = ErrAuth
	case statusCode == http.StatusForbidden:
		e.Kind = ErrGeoRestricted
	case statusCode == http.StatusNotFound:
		e.Kind = ErrNotFound
	case statusCode == http.StatusConflict:
		e.Kind = ErrConflict
	case statusCode == http.StatusTooManyRequests:
		e.Kind = ErrRateLimited
		if header != nil {
			e.RetryAfter = ParseRetryAfter(header.Get("Retry-After"), time.Now())
		}
	case statusCode >= 500:
		e.Kind = ErrUpstreamUnavailable
	default:
		e.Kind = ErrBadUpstreamResponse
	}
	return e
}

// ParseRetryAfter accepts delta seconds or an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
