package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-bakong/app/apierr"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/retry"
)

const testHash = "0123456789abcdef0123456789abcdef"

func newTestClient(url string) *BakongClient {
	return NewBakongClient(BakongConfig{
		BaseURL:        url,
		DeveloperToken: "dev-token",
		HTTPTimeout:    time.Second,
		Retry:          retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
}

func TestCheckStatusPaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/check_transaction_by_md5" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer dev-token" {
			t.Fatalf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["md5"] != testHash {
			t.Fatalf("unexpected md5 body: %v", body)
		}
		_, _ = io.WriteString(w, `{"responseCode":0,"responseMessage":"Getting transaction successfully.","errorCode":null,"data":{"hash":"abc","fromAccountId":"payer@aclb","toAccountId":"merchant@bank","currency":"USD","amount":0.5,"description":"","createdDateMs":1700000000000,"acknowledgedDateMs":1700000001000,"externalRef":"100FT1"}}`)
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).CheckStatus(context.Background(), testHash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != entity.PaymentStatusPaid || !result.Found {
		t.Fatalf("expected found PAID result, got %+v", result)
	}
	if result.Amount.String() != "0.5" || result.Currency != "USD" {
		t.Fatalf("unexpected amount: %s %s", result.Amount, result.Currency)
	}
	if result.PaidAt == nil || result.PaidAt.UnixMilli() != 1700000001000 {
		t.Fatalf("expected paidAt from acknowledgedDateMs, got %v", result.PaidAt)
	}
	if result.Metadata["fromAccountId"] != "payer@aclb" || result.Metadata["externalRef"] != "100FT1" {
		t.Fatalf("unexpected metadata: %v", result.Metadata)
	}
}

func TestCheckStatusNotFoundIsPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"responseCode":1,"responseMessage":"Transaction could not be found. Please check and try again.","errorCode":1,"data":null}`)
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).CheckStatus(context.Background(), testHash)
	if err != nil {
		t.Fatalf("not found should not be an error, got %v", err)
	}
	if result.Status != entity.PaymentStatusPending || result.Found {
		t.Fatalf("expected pending, got %+v", result)
	}
}

func TestCheckStatusHTTP404IsPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).CheckStatus(context.Background(), testHash)
	if err != nil || result.Status != entity.PaymentStatusPending {
		t.Fatalf("expected pending without error, got %+v err=%v", result, err)
	}
}

func TestCheckStatusErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   error
		calls  int32
	}{
		{http.StatusBadRequest, apierr.ErrValidation, 1},
		{http.StatusUnauthorized, apierr.ErrAuth, 1},
		{http.StatusForbidden, apierr.ErrGeoRestricted, 1},
		{http.StatusTooManyRequests, apierr.ErrRateLimited, 4},
		{http.StatusServiceUnavailable, apierr.ErrUpstreamUnavailable, 4},
	}

	for _, tc := range cases {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(tc.status)
		}))

		_, err := newTestClient(srv.URL).CheckStatus(context.Background(), testHash)
		srv.Close()

		if !errors.Is(err, tc.kind) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.kind, err)
		}
		if got := atomic.LoadInt32(&calls); got != tc.calls {
			t.Fatalf("status %d: expected %d calls, got %d", tc.status, tc.calls, got)
		}
	}
}

func TestCheckStatusRecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"responseCode":0,"data":{"hash":"abc","amount":"1.00","currency":"USD"}}`)
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).CheckStatus(context.Background(), testHash)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if result.Status != entity.PaymentStatusPaid || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("unexpected result %+v after %d calls", result, calls)
	}
}

func TestCheckStatusBadBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.WriteString(w, `<html>oops</html>`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CheckStatus(context.Background(), testHash)
	if !errors.Is(err, apierr.ErrBadUpstreamResponse) {
		t.Fatalf("expected bad upstream response, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("bad body must not be retried, got %d calls", calls)
	}
}

func TestBulkCheckRejectsMoreThanFiftyWithoutNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	hashes := make([]string, 51)
	for i := range hashes {
		hashes[i] = testHash
	}

	_, err := newTestClient(srv.URL).BulkCheckStatus(context.Background(), hashes)
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no network call, got %d", calls)
	}
}

func TestBulkCheckMapsItems(t *testing.T) {
	other := strings.Repeat("f", 32)
	missing := strings.Repeat("e", 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("expected array body: %v", err)
		}
		if len(body) != 3 {
			t.Fatalf("unexpected body: %v", body)
		}
		_, _ = io.WriteString(w, `{"responseCode":0,"data":[`+
			`{"md5":"`+testHash+`","status":"SUCCESS","data":{"hash":"h1","amount":0.5,"currency":"USD","acknowledgedDateMs":1700000000000}},`+
			`{"md5":"`+other+`","status":"NOT_FOUND","data":null}]}`)
	}))
	defer srv.Close()

	results, err := newTestClient(srv.URL).BulkCheckStatus(context.Background(), []string{testHash, other, missing})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Status != entity.PaymentStatusPaid || results[0].PaidAt == nil {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].Status != entity.PaymentStatusPending || results[2].Status != entity.PaymentStatusPending {
		t.Fatalf("expected NOT_FOUND and missing items to be pending: %+v %+v", results[1], results[2])
	}
}

func TestGenerateDeepLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body deepLinkRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.QR != "qr-payload" || body.SourceInfo.AppName != "Dose" {
			t.Fatalf("unexpected deep link request: %+v", body)
		}
		_, _ = io.WriteString(w, `{"responseCode":0,"data":{"shortLink":"https://bakong.page.link/abc"}}`)
	}))
	defer srv.Close()

	link, err := newTestClient(srv.URL).GenerateDeepLink(context.Background(), "qr-payload", DeepLinkSource{AppName: "Dose"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link == nil || *link != "https://bakong.page.link/abc" {
		t.Fatalf("unexpected link: %v", link)
	}
}

func TestGenerateDeepLinkIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	link, err := newTestClient(srv.URL).GenerateDeepLink(context.Background(), "qr", DeepLinkSource{})
	if err == nil || link != nil {
		t.Fatalf("expected error and nil link, got %v %v", link, err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/health" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).Health(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[string]entity.PaymentStatus{
		"COMPLETED": entity.PaymentStatusPaid,
		"success":   entity.PaymentStatusPaid,
		"PAID":      entity.PaymentStatusPaid,
		"FAILED":    entity.PaymentStatusFailed,
		"REJECTED":  entity.PaymentStatusFailed,
		"EXPIRED":   entity.PaymentStatusExpired,
		"NOT_FOUND": entity.PaymentStatusPending,
		"":          entity.PaymentStatusPending,
	}
	for raw, want := range cases {
		if got := MapStatus(raw); got != want {
			t.Fatalf("MapStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}
