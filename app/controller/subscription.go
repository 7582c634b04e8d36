package controller

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/factory"
	"github.com/vibast-solutions/ms-go-bakong/app/mapper"
	"github.com/vibast-solutions/ms-go-bakong/app/service"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
)

type SubscriptionController struct {
	subscriptionService *service.SubscriptionService
	logger              logrus.FieldLogger
}

func NewSubscriptionController(subscriptionService *service.SubscriptionService) *SubscriptionController {
	return &SubscriptionController{
		subscriptionService: subscriptionService,
		logger:              factory.NewModuleLogger("subscriptions-controller"),
	}
}

func (c *SubscriptionController) GetStatus(ctx echo.Context) error {
	req, err := types.NewGetSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	status, err := c.subscriptionService.GetStatus(ctx.Request().Context(), req.GetUserId())
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Get subscription")
	}

	return ctx.JSON(http.StatusOK, &types.SubscriptionStatusResponse{
		Subscription:   mapper.SubscriptionToType(status.Subscription),
		RecentPayments: mapper.PaymentsToType(status.RecentPayments),
		History:        mapper.SubscriptionHistoryToType(status.History),
	})
}

func (c *SubscriptionController) Upgrade(ctx echo.Context) error {
	req, err := types.NewChangePlanRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.subscriptionService.Upgrade(
		ctx.Request().Context(),
		req.GetUserId(),
		entity.ParsePlanType(req.GetNewPlanType()),
		service.DeepLinkInput{AppName: req.GetAppName()},
	)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Upgrade subscription")
	}

	resp := &types.UpgradeSubscriptionResponse{
		Subscription:    mapper.SubscriptionToType(result.Quote.Subscription),
		ProratedAmount:  result.Quote.ProratedAmount.StringFixed(2),
		RequiresPayment: result.Quote.RequiresPayment,
	}
	statusCode := http.StatusOK
	if result.Payment != nil {
		resp.Payment = mapper.PaymentToType(result.Payment)
		statusCode = http.StatusCreated
	}

	return ctx.JSON(statusCode, resp)
}

func (c *SubscriptionController) Downgrade(ctx echo.Context) error {
	req, err := types.NewChangePlanRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	sub, err := c.subscriptionService.Downgrade(ctx.Request().Context(), req.GetUserId(), entity.ParsePlanType(req.GetNewPlanType()))
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Downgrade subscription")
	}

	return ctx.JSON(http.StatusOK, &types.SubscriptionEnvelopeResponse{Subscription: mapper.SubscriptionToType(sub)})
}

func (c *SubscriptionController) Cancel(ctx echo.Context) error {
	req, err := types.NewCancelSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	sub, err := c.subscriptionService.Cancel(ctx.Request().Context(), req.GetUserId(), req.GetReason())
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Cancel subscription")
	}

	return ctx.JSON(http.StatusOK, &types.SubscriptionEnvelopeResponse{Subscription: mapper.SubscriptionToType(sub)})
}

func (c *SubscriptionController) Renew(ctx echo.Context) error {
	req, err := types.NewRenewSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	payment, err := c.subscriptionService.InitiateRenewal(ctx.Request().Context(), req.GetUserId(), service.DeepLinkInput{AppName: req.GetAppName()})
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Renew subscription")
	}

	return ctx.JSON(http.StatusCreated, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToType(payment)})
}
