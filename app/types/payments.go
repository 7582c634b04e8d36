package types

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const MaxBulkHashes = 50

var md5Pattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// ValidMD5 reports whether hash looks like a KHQR content hash.
func ValidMD5(hash string) bool {
	return md5Pattern.MatchString(hash)
}

func NewCreatePaymentRequestFromContext(ctx echo.Context) (*CreatePaymentRequest, error) {
	var body CreatePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.UserId = strings.TrimSpace(body.UserId)
	body.PlanType = strings.ToUpper(strings.TrimSpace(body.PlanType))
	body.Amount = strings.TrimSpace(body.Amount)
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	body.BillNumber = strings.TrimSpace(body.BillNumber)
	body.AppName = strings.TrimSpace(body.AppName)
	body.AppIconUrl = strings.TrimSpace(body.AppIconUrl)
	body.Callback = strings.TrimSpace(body.Callback)

	return &body, nil
}

func (r *CreatePaymentRequest) Validate() error {
	if r.GetUserId() == "" {
		return errors.New("user_id is required")
	}
	if r.GetPlanType() != "PREMIUM" && r.GetPlanType() != "FAMILY_PREMIUM" {
		return errors.New("plan_type must be PREMIUM or FAMILY_PREMIUM")
	}
	if r.GetAmount() != "" {
		amount, err := decimal.NewFromString(r.GetAmount())
		if err != nil {
			return errors.New("amount must be a decimal number")
		}
		if !amount.IsPositive() {
			return errors.New("amount must be > 0")
		}
	}
	if r.GetCurrency() != "" && r.GetCurrency() != "USD" && r.GetCurrency() != "KHR" {
		return errors.New("currency must be USD or KHR")
	}
	if len(r.GetBillNumber()) > 25 {
		return errors.New("bill_number must be at most 25 characters")
	}
	return nil
}

func NewGetPaymentStatusRequestFromContext(ctx echo.Context) (*GetPaymentStatusRequest, error) {
	return &GetPaymentStatusRequest{Md5Hash: strings.ToLower(strings.TrimSpace(ctx.Param("md5")))}, nil
}

func (r *GetPaymentStatusRequest) Validate() error {
	if !ValidMD5(r.GetMd5Hash()) {
		return errors.New("md5 hash must be 32 hex characters")
	}
	return nil
}

func NewMonitorPaymentRequestFromContext(ctx echo.Context) (*MonitorPaymentRequest, error) {
	var body MonitorPaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Md5Hash = strings.ToLower(strings.TrimSpace(body.Md5Hash))
	return &body, nil
}

func (r *MonitorPaymentRequest) Validate() error {
	if r.GetMd5Hash() == "" && r.GetTransactionId() == 0 {
		return errors.New("md5_hash or transaction_id is required")
	}
	if r.GetMd5Hash() != "" && !ValidMD5(r.GetMd5Hash()) {
		return errors.New("md5 hash must be 32 hex characters")
	}
	if r.GetTimeoutSeconds() < 0 || r.GetIntervalSeconds() < 0 || r.GetMaxAttempts() < 0 {
		return errors.New("monitor options must not be negative")
	}
	if r.GetTimeoutSeconds() > 3600 {
		return errors.New("timeout_seconds must be <= 3600")
	}
	return nil
}

func NewBulkCheckPaymentsRequestFromContext(ctx echo.Context) (*BulkCheckPaymentsRequest, error) {
	var body BulkCheckPaymentsRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	for i, hash := range body.Md5Hashes {
		body.Md5Hashes[i] = strings.ToLower(strings.TrimSpace(hash))
	}
	return &body, nil
}

func (r *BulkCheckPaymentsRequest) Validate() error {
	if len(r.GetMd5Hashes()) == 0 {
		return errors.New("md5_hashes is required")
	}
	if len(r.GetMd5Hashes()) > MaxBulkHashes {
		return fmt.Errorf("md5_hashes is limited to %d entries", MaxBulkHashes)
	}
	for _, hash := range r.GetMd5Hashes() {
		if !ValidMD5(hash) {
			return fmt.Errorf("invalid md5 hash: %q", hash)
		}
	}
	return nil
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetPaymentRequest{Id: id}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

func NewCancelPaymentRequestFromContext(ctx echo.Context) (*CancelPaymentRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body CancelPaymentRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = id
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *CancelPaymentRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}
