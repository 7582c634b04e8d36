package controller

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/apierr"
	"github.com/vibast-solutions/ms-go-bakong/app/factory"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
)

func writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}

// writeServiceError maps an error kind to its HTTP status. Unknown errors are logged and
// hidden behind a 500.
func writeServiceError(ctx echo.Context, logger logrus.FieldLogger, err error, action string) error {
	switch {
	case errors.Is(err, apierr.ErrValidation):
		return writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, apierr.ErrNotFound):
		return writeError(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, apierr.ErrConflict):
		return writeError(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, apierr.ErrRateLimited):
		if wait := apierr.RetryAfter(err); wait > 0 {
			ctx.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		return writeError(ctx, http.StatusTooManyRequests, "settlement network rate limit reached")
	case errors.Is(err, apierr.ErrUpstreamUnavailable):
		factory.LoggerWithContext(logger, ctx).WithError(err).Warn(action + " failed")
		return writeError(ctx, http.StatusServiceUnavailable, "settlement network unavailable")
	case errors.Is(err, apierr.ErrBadUpstreamResponse), errors.Is(err, apierr.ErrAuth), errors.Is(err, apierr.ErrGeoRestricted):
		factory.LoggerWithContext(logger, ctx).WithError(err).Error(action + " failed")
		return writeError(ctx, http.StatusBadGateway, "settlement network error")
	default:
		factory.LoggerWithContext(logger, ctx).WithError(err).Error(action + " failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
}
