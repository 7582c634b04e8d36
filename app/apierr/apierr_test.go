package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestFromStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   error
	}{
		{http.StatusBadRequest, ErrValidation},
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrGeoRestricted},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrUpstreamUnavailable},
		{http.StatusBadGateway, ErrUpstreamUnavailable},
		{http.StatusTeapot, ErrBadUpstreamResponse},
	}

	for _, tc := range cases {
		err := FromStatus(tc.status, "boom", nil)
		if err == nil {
			t.Fatalf("expected error for status %d", tc.status)
		}
		if !errors.Is(err, tc.kind) {
			t.Fatalf("status %d: expected kind %v, got %v", tc.status, tc.kind, err.Kind)
		}
		if StatusCode(fmt.Errorf("wrapped: %w", err)) != tc.status {
			t.Fatalf("status %d not preserved through wrapping", tc.status)
		}
	}

	if err := FromStatus(http.StatusOK, "", nil); err != nil {
		t.Fatalf("expected nil for 200, got %v", err)
	}
}

func TestFromStatusRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "7")

	err := FromStatus(http.StatusTooManyRequests, "", header)
	if RetryAfter(err) != 7*time.Second {
		t.Fatalf("expected retry-after 7s, got %s", RetryAfter(err))
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	value := now.Add(30 * time.Second).Format(http.TimeFormat)

	if got := ParseRetryAfter(value, now); got != 30*time.Second {
		t.Fatalf("expected 30s, got %s", got)
	}
	if got := ParseRetryAfter("-3", now); got != 0 {
		t.Fatalf("expected 0 for negative value, got %s", got)
	}
	if got := ParseRetryAfter("soon", now); got != 0 {
		t.Fatalf("expected 0 for garbage, got %s", got)
	}
}

func TestDegraded(t *testing.T) {
	for _, kind := range []error{ErrUpstreamUnavailable, ErrRateLimited, ErrBadUpstreamResponse, ErrAuth, ErrGeoRestricted} {
		if !Degraded(fmt.Errorf("check status: %w", kind)) {
			t.Fatalf("expected %v to be degraded", kind)
		}
	}
	if !Degraded(FromStatus(http.StatusServiceUnavailable, "down", nil)) {
		t.Fatalf("expected remote 503 to be degraded")
	}
	for _, err := range []error{nil, ErrValidation, ErrNotFound, ErrConflict, errors.New("boom")} {
		if Degraded(err) {
			t.Fatalf("expected %v not to be degraded", err)
		}
	}
}
