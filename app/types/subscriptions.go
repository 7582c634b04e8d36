package types

import (
	"errors"
	"io"
	"strings"

	"github.com/labstack/echo/v4"
)

func NewGetSubscriptionRequestFromContext(ctx echo.Context) (*GetSubscriptionRequest, error) {
	return &GetSubscriptionRequest{UserId: strings.TrimSpace(ctx.Param("userId"))}, nil
}

func (r *GetSubscriptionRequest) Validate() error {
	if r.GetUserId() == "" {
		return errors.New("user_id is required")
	}
	return nil
}

func NewChangePlanRequestFromContext(ctx echo.Context) (*ChangePlanRequest, error) {
	var body ChangePlanRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.UserId = strings.TrimSpace(body.UserId)
	body.NewPlanType = strings.ToUpper(strings.TrimSpace(body.NewPlanType))
	body.AppName = strings.TrimSpace(body.AppName)
	return &body, nil
}

func (r *ChangePlanRequest) Validate() error {
	if r.GetUserId() == "" {
		return errors.New("user_id is required")
	}
	if r.GetNewPlanType() != "PREMIUM" && r.GetNewPlanType() != "FAMILY_PREMIUM" {
		return errors.New("new_plan_type must be PREMIUM or FAMILY_PREMIUM")
	}
	return nil
}

func NewCancelSubscriptionRequestFromContext(ctx echo.Context) (*CancelSubscriptionRequest, error) {
	var body CancelSubscriptionRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.UserId = strings.TrimSpace(body.UserId)
	body.Reason = strings.TrimSpace(body.Reason)
	return &body, nil
}

func (r *CancelSubscriptionRequest) Validate() error {
	if r.GetUserId() == "" {
		return errors.New("user_id is required")
	}
	if len(r.GetReason()) > 500 {
		return errors.New("reason must be at most 500 characters")
	}
	return nil
}

func NewRenewSubscriptionRequestFromContext(ctx echo.Context) (*RenewSubscriptionRequest, error) {
	var body RenewSubscriptionRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.UserId = strings.TrimSpace(body.UserId)
	body.AppName = strings.TrimSpace(body.AppName)
	return &body, nil
}

func (r *RenewSubscriptionRequest) Validate() error {
	if r.GetUserId() == "" {
		return errors.New("user_id is required")
	}
	return nil
}
