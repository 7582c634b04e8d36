package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/apierr"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/factory"
	"github.com/vibast-solutions/ms-go-bakong/app/retry"
)

const (
	bakongResponseOK        = 0
	bakongErrorNotFound     = 1
	bakongErrorFailed       = 3
	bakongErrorUnauthorized = 6
	bulkItemNotFound        = "NOT_FOUND"
)

type BakongConfig struct {
	BaseURL        string
	DeveloperToken string
	HTTPTimeout    time.Duration
	Retry          retry.Policy
}

type BakongClient struct {
	cfg    BakongConfig
	client *http.Client
	logger logrus.FieldLogger
}

func NewBakongClient(cfg BakongConfig) *BakongClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Retry.InitialDelay <= 0 {
		maxRetries := cfg.Retry.MaxRetries
		cfg.Retry = retry.DefaultPolicy()
		if maxRetries > 0 {
			cfg.Retry.MaxRetries = maxRetries
		}
	}

	c := &BakongClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: factory.NewModuleLogger("bakong-client"),
	}
	c.cfg.Retry.Retryable = retryableError
	c.cfg.Retry.MinDelay = apierr.RetryAfter
	c.cfg.Retry.OnRetry = func(err error, attempt int, delay time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		}).Warn("Retrying bakong request")
	}
	return c
}

type bakongEnvelope struct {
	ResponseCode    int             `json:"responseCode"`
	ResponseMessage string          `json:"responseMessage"`
	ErrorCode       *int            `json:"errorCode"`
	Data            json.RawMessage `json:"data"`
}

type bakongTransaction struct {
	Hash               string           `json:"hash"`
	FromAccountID      string           `json:"fromAccountId"`
	ToAccountID        string           `json:"toAccountId"`
	Currency           string           `json:"currency"`
	Amount             *decimal.Decimal `json:"amount"`
	Description        string           `json:"description"`
	ExternalRef        string           `json:"externalRef"`
	Status             string           `json:"status"`
	CreatedDateMs      *float64         `json:"createdDateMs"`
	AcknowledgedDateMs *float64         `json:"acknowledgedDateMs"`
}

type bakongBulkItem struct {
	MD5    string             `json:"md5"`
	Status string             `json:"status"`
	Data   *bakongTransaction `json:"data"`
}

type deepLinkRequest struct {
	QR         string           `json:"qr"`
	SourceInfo deepLinkSourceIn `json:"sourceInfo"`
}

type deepLinkSourceIn struct {
	AppIconURL          string `json:"appIconUrl"`
	AppName             string `json:"appName"`
	AppDeepLinkCallback string `json:"appDeepLinkCallback"`
}

func (c *BakongClient) CheckStatus(ctx context.Context, md5Hash string) (*StatusResult, error) {
	md5Hash = strings.TrimSpace(md5Hash)
	if md5Hash == "" {
		return nil, fmt.Errorf("%w: md5 hash is required", apierr.ErrValidation)
	}

	var result *StatusResult
	err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		env, err := c.do(ctx, http.MethodPost, "/check_transaction_by_md5", map[string]string{"md5": md5Hash})
		if err != nil {
			if errors.Is(err, apierr.ErrNotFound) {
				result = pendingResult(md5Hash)
				return nil
			}
			return err
		}

		result, err = parseSingle(md5Hash, env)
		return err
	})
	if err != nil {
		c.logger.WithError(err).WithField("md5_hash", md5Hash).Warn("Bakong status check failed")
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{"md5_hash": md5Hash, "status": result.Status}).Debug("Bakong status retrieved")
	return result, nil
}

func (c *BakongClient) BulkCheckStatus(ctx context.Context, md5Hashes []string) ([]*StatusResult, error) {
	if len(md5Hashes) > MaxBulkHashes {
		return nil, fmt.Errorf("%w: bulk check is limited to %d hashes", apierr.ErrValidation, MaxBulkHashes)
	}
	if len(md5Hashes) == 0 {
		return []*StatusResult{}, nil
	}

	var items []bakongBulkItem
	err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		env, err := c.do(ctx, http.MethodPost, "/check_transaction_by_md5_list", md5Hashes)
		if err != nil {
			if errors.Is(err, apierr.ErrNotFound) {
				items = nil
				return nil
			}
			return err
		}
		if env.ResponseCode != bakongResponseOK {
			return envelopeError(env)
		}
		items = nil
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil
		}
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return fmt.Errorf("%w: %v", apierr.ErrBadUpstreamResponse, err)
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("count", len(md5Hashes)).Warn("Bakong bulk check failed")
		return nil, err
	}

	byHash := make(map[string]bakongBulkItem, len(items))
	for _, item := range items {
		byHash[strings.ToLower(item.MD5)] = item
	}

	results := make([]*StatusResult, 0, len(md5Hashes))
	for _, hash := range md5Hashes {
		item, ok := byHash[strings.ToLower(hash)]
		if !ok || strings.EqualFold(item.Status, bulkItemNotFound) {
			results = append(results, pendingResult(hash))
			continue
		}
		results = append(results, resultFromTransaction(hash, item.Status, item.Data))
	}

	return results, nil
}

func (c *BakongClient) GenerateDeepLink(ctx context.Context, qr string, source DeepLinkSource) (*string, error) {
	env, err := c.do(ctx, http.MethodPost, "/generate_deeplink_by_qr", deepLinkRequest{
		QR: qr,
		SourceInfo: deepLinkSourceIn{
			AppIconURL:          source.AppIconURL,
			AppName:             source.AppName,
			AppDeepLinkCallback: source.AppCallback,
		},
	})
	if err != nil {
		return nil, err
	}
	if env.ResponseCode != bakongResponseOK {
		return nil, envelopeError(env)
	}

	var payload struct {
		ShortLink string `json:"shortLink"`
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", apierr.ErrBadUpstreamResponse, err)
		}
	}
	if strings.TrimSpace(payload.ShortLink) == "" {
		return nil, nil
	}
	link := payload.ShortLink
	return &link, nil
}

func (c *BakongClient) Health(ctx context.Context) error {
	return retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
		if err != nil {
			return err
		}
		c.authorize(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		if apiErr := apierr.FromStatus(resp.StatusCode, string(body), resp.Header); apiErr != nil {
			return apiErr
		}
		return nil
	})
}

func (c *BakongClient) do(ctx context.Context, method, path string, payload interface{}) (*bakongEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if apiErr := apierr.FromStatus(resp.StatusCode, string(respBody), resp.Header); apiErr != nil {
		return nil, apiErr
	}

	env := &bakongEnvelope{}
	if err := json.Unmarshal(respBody, env); err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrBadUpstreamResponse, err)
	}
	return env, nil
}

func (c *BakongClient) authorize(req *http.Request) {
	if c.cfg.DeveloperToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.DeveloperToken)
	}
}

func parseSingle(md5Hash string, env *bakongEnvelope) (*StatusResult, error) {
	if env.ResponseCode != bakongResponseOK {
		if env.ErrorCode != nil {
			switch *env.ErrorCode {
			case bakongErrorNotFound:
				return pendingResult(md5Hash), nil
			case bakongErrorFailed:
				return &StatusResult{MD5Hash: md5Hash, Status: entity.PaymentStatusFailed, Found: true, Metadata: map[string]string{"responseMessage": env.ResponseMessage}}, nil
			}
		}
		return nil, envelopeError(env)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return pendingResult(md5Hash), nil
	}

	var tx bakongTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrBadUpstreamResponse, err)
	}

	return resultFromTransaction(md5Hash, tx.Status, &tx), nil
}

func resultFromTransaction(md5Hash, rawStatus string, tx *bakongTransaction) *StatusResult {
	status := entity.PaymentStatusPaid
	if rawStatus != "" {
		status = MapStatus(rawStatus)
	} else if tx != nil && tx.Status != "" {
		status = MapStatus(tx.Status)
	}

	result := &StatusResult{
		MD5Hash:  md5Hash,
		Status:   status,
		Found:    true,
		Metadata: map[string]string{},
	}
	if tx == nil {
		return result
	}

	if tx.Amount != nil {
		result.Amount = *tx.Amount
		result.Metadata["amount"] = tx.Amount.String()
	}
	result.Currency = tx.Currency

	for key, value := range map[string]string{
		"hash":          tx.Hash,
		"fromAccountId": tx.FromAccountID,
		"toAccountId":   tx.ToAccountID,
		"currency":      tx.Currency,
		"description":   tx.Description,
		"externalRef":   tx.ExternalRef,
	} {
		if value != "" {
			result.Metadata[key] = value
		}
	}

	paidMs := tx.AcknowledgedDateMs
	if paidMs == nil {
		paidMs = tx.CreatedDateMs
	}
	if paidMs != nil && status == entity.PaymentStatusPaid {
		paidAt := time.UnixMilli(int64(*paidMs)).UTC()
		result.PaidAt = &paidAt
		result.Metadata["paidAtMs"] = strconv.FormatInt(int64(*paidMs), 10)
	}

	return result
}

func pendingResult(md5Hash string) *StatusResult {
	return &StatusResult{MD5Hash: md5Hash, Status: entity.PaymentStatusPending, Metadata: map[string]string{}}
}

func envelopeError(env *bakongEnvelope) error {
	if env.ErrorCode != nil && *env.ErrorCode == bakongErrorUnauthorized {
		return &apierr.Error{Kind: apierr.ErrAuth, Message: env.ResponseMessage}
	}
	return &apierr.Error{Kind: apierr.ErrValidation, Message: env.ResponseMessage}
}

// retryableError accepts transport failures, 5xx and 429. Cancellation is handled by retry.Do.
func retryableError(err error) bool {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return errors.Is(apiErr.Kind, apierr.ErrUpstreamUnavailable) || errors.Is(apiErr.Kind, apierr.ErrRateLimited)
	}
	if errors.Is(err, apierr.ErrBadUpstreamResponse) || errors.Is(err, apierr.ErrValidation) {
		return false
	}
	return true
}
