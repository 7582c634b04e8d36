package controller

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/apierr"
	"github.com/vibast-solutions/ms-go-bakong/app/factory"
	"github.com/vibast-solutions/ms-go-bakong/app/khqr"
	"github.com/vibast-solutions/ms-go-bakong/app/mapper"
	"github.com/vibast-solutions/ms-go-bakong/app/service"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
)

type PaymentController struct {
	paymentService *service.PaymentService
	monitors       *service.MonitorManager
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService, monitors *service.MonitorManager) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		monitors:       monitors,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	checks := map[string]string{"bakong": "ok"}
	if err := c.paymentService.Health(ctx.Request().Context()); err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Warn("Settlement health check failed")
		checks["bakong"] = "unavailable"
		return ctx.JSON(http.StatusServiceUnavailable, &types.HealthResponse{Status: "degraded", Checks: checks})
	}
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok", Checks: checks})
}

func (c *PaymentController) CreatePayment(ctx echo.Context) error {
	req, err := types.NewCreatePaymentRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.CreatePayment(ctx.Request().Context(), req)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Create payment")
	}

	return ctx.JSON(http.StatusCreated, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToType(item)})
}

// GetPaymentStatus answers with the last known state when the network cannot be reached.
func (c *PaymentController) GetPaymentStatus(ctx echo.Context) error {
	req, err := types.NewGetPaymentStatusRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.CheckStatus(ctx.Request().Context(), req.GetMd5Hash())
	if err != nil {
		if item != nil && apierr.Degraded(err) {
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Warn("Returning last known payment status")
			return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{
				Payment: mapper.PaymentToType(item),
				Warning: "status could not be refreshed from the settlement network",
			})
		}
		return writeServiceError(ctx, c.logger, err, "Check payment status")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToType(item)})
}

func (c *PaymentController) MonitorPayment(ctx echo.Context) error {
	req, err := types.NewMonitorPaymentRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	reqCtx := ctx.Request().Context()
	id := req.GetTransactionId()
	if id == 0 {
		item, err := c.paymentService.GetByHash(reqCtx, req.GetMd5Hash())
		if err != nil {
			return writeServiceError(ctx, c.logger, err, "Monitor payment")
		}
		id = item.ID
	}

	opts := service.MonitorOptions{
		Timeout:     time.Duration(req.GetTimeoutSeconds()) * time.Second,
		Interval:    time.Duration(req.GetIntervalSeconds()) * time.Second,
		MaxAttempts: int(req.GetMaxAttempts()),
	}

	if req.GetAsync() {
		item, err := c.paymentService.GetPayment(reqCtx, id)
		if err != nil {
			return writeServiceError(ctx, c.logger, err, "Monitor payment")
		}
		if item.Status.Terminal() {
			return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToType(item)})
		}

		warning := "monitoring started"
		if !c.monitors.Start(id, opts) {
			warning = "monitoring already in progress"
		}
		return ctx.JSON(http.StatusAccepted, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToType(item), Warning: warning})
	}

	item, err := c.paymentService.Monitor(reqCtx, id, opts)
	if err != nil {
		if item != nil && reqCtx.Err() != nil {
			return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToType(item), Warning: "monitoring interrupted"})
		}
		return writeServiceError(ctx, c.logger, err, "Monitor payment")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToType(item)})
}

func (c *PaymentController) BulkCheckPayments(ctx echo.Context) error {
	req, err := types.NewBulkCheckPaymentsRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, unknown, err := c.paymentService.BulkCheck(ctx.Request().Context(), req.GetMd5Hashes())
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Bulk check payments")
	}

	return ctx.JSON(http.StatusOK, &types.BulkCheckPaymentsResponse{Payments: mapper.PaymentsToType(items), Unknown: unknown})
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPayment(ctx.Request().Context(), req.GetId())
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Get payment")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToType(item)})
}

func (c *PaymentController) GetPaymentHistory(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListHistory(ctx.Request().Context(), req.GetId())
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Get payment history")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentHistoryResponse{History: mapper.PaymentHistoryToType(items)})
}

func (c *PaymentController) GetPaymentQRImage(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	image, err := c.paymentService.QRImage(ctx.Request().Context(), req.GetId())
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Get payment qr image")
	}
	defer image.Close()

	return ctx.Stream(http.StatusOK, khqr.ImageContentType, image)
}

func (c *PaymentController) CancelPayment(ctx echo.Context) error {
	req, err := types.NewCancelPaymentRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.Cancel(ctx.Request().Context(), req.GetId(), req.GetReason())
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Cancel payment")
	}
	c.monitors.Cancel(item.ID)

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToType(item)})
}
