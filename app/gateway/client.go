package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/apierr"
	"github.com/vibast-solutions/ms-go-bakong/app/factory"
	"github.com/vibast-solutions/ms-go-bakong/app/signing"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
)

const (
	DefaultTimeout        = 15 * time.Second
	DefaultMonitorTimeout = 300 * time.Second
)

var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", apierr.ErrUpstreamUnavailable)

type Config struct {
	BaseURL          string
	APIKey           string
	SigningSecret    string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	Now              func() time.Time
}

// Client calls the payment service HTTP API with signed requests behind a circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *Breaker
	logger  logrus.FieldLogger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, cfg.Now),
		logger:  factory.NewModuleLogger("gateway-client"),
	}
}

func (c *Client) Breaker() *Breaker {
	return c.breaker
}

func (c *Client) CreatePayment(ctx context.Context, req *types.CreatePaymentRequest) (*types.PaymentEnvelopeResponse, error) {
	var out types.PaymentEnvelopeResponse
	if err := c.do(ctx, http.MethodPost, "/api/payments/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, md5Hash string) (*types.PaymentEnvelopeResponse, error) {
	var out types.PaymentEnvelopeResponse
	path := "/api/payments/status/" + url.PathEscape(strings.ToLower(strings.TrimSpace(md5Hash)))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MonitorPayment waits for the server side monitor unless req.Async is set, so the
// call deadline is extended by the monitor timeout.
func (c *Client) MonitorPayment(ctx context.Context, req *types.MonitorPaymentRequest) (*types.PaymentEnvelopeResponse, error) {
	timeout := c.cfg.Timeout
	if !req.GetAsync() {
		monitorTimeout := DefaultMonitorTimeout
		if req.GetTimeoutSeconds() > 0 {
			monitorTimeout = time.Duration(req.GetTimeoutSeconds()) * time.Second
		}
		timeout += monitorTimeout
	}

	var out types.PaymentEnvelopeResponse
	if err := c.call(ctx, timeout, http.MethodPost, "/api/payments/monitor", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BulkCheckPayments(ctx context.Context, md5Hashes []string) (*types.BulkCheckPaymentsResponse, error) {
	if len(md5Hashes) > types.MaxBulkHashes {
		return nil, fmt.Errorf("%w: at most %d hashes per bulk check", apierr.ErrValidation, types.MaxBulkHashes)
	}

	var out types.BulkCheckPaymentsResponse
	if err := c.do(ctx, http.MethodPost, "/api/payments/bulk-check", &types.BulkCheckPaymentsRequest{Md5Hashes: md5Hashes}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSubscription(ctx context.Context, userID string) (*types.SubscriptionStatusResponse, error) {
	var out types.SubscriptionStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/subscriptions/status/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpgradeSubscription(ctx context.Context, req *types.ChangePlanRequest) (*types.UpgradeSubscriptionResponse, error) {
	var out types.UpgradeSubscriptionResponse
	if err := c.do(ctx, http.MethodPost, "/api/subscriptions/upgrade", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DowngradeSubscription(ctx context.Context, req *types.ChangePlanRequest) (*types.SubscriptionEnvelopeResponse, error) {
	var out types.SubscriptionEnvelopeResponse
	if err := c.do(ctx, http.MethodPost, "/api/subscriptions/downgrade", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelSubscription(ctx context.Context, req *types.CancelSubscriptionRequest) (*types.SubscriptionEnvelopeResponse, error) {
	var out types.SubscriptionEnvelopeResponse
	if err := c.do(ctx, http.MethodPost, "/api/subscriptions/cancel", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenewSubscription(ctx context.Context, req *types.RenewSubscriptionRequest) (*types.PaymentEnvelopeResponse, error) {
	var out types.PaymentEnvelopeResponse
	if err := c.do(ctx, http.MethodPost, "/api/subscriptions/renew", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var out types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	return c.call(ctx, c.cfg.Timeout, method, path, body, out)
}

func (c *Client) call(ctx context.Context, timeout time.Duration, method, path string, body any, out any) error {
	if !c.breaker.Allow() {
		c.logger.WithField("path", path).Warn("Circuit breaker open, skipping call")
		return ErrCircuitOpen
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", apierr.ErrValidation, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(signing.HeaderRequestID, requestID)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if len(payload) > 0 {
		ts := signing.Timestamp(c.cfg.Now())
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(signing.HeaderTimestamp, ts)
		req.Header.Set(signing.HeaderSignature, signing.Sign(c.cfg.SigningSecret, ts, payload))
	}

	logger := c.logger.WithFields(logrus.Fields{"request_id": requestID, "method": method, "path": path})

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		logger.WithError(err).Warn("Gateway call failed")
		return fmt.Errorf("%w: %v", apierr.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: read response: %v", apierr.ErrUpstreamUnavailable, err)
	}

	if apiErr := apierr.FromStatus(resp.StatusCode, errorMessage(raw), resp.Header); apiErr != nil {
		if errors.Is(apiErr, apierr.ErrUpstreamUnavailable) {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
		logger.WithField("status_code", resp.StatusCode).Warn("Gateway call rejected")
		return apiErr
	}
	c.breaker.RecordSuccess()

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrBadUpstreamResponse, err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body types.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return string(raw)
}
