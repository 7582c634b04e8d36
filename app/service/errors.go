package service

import (
	"fmt"

	"github.com/vibast-solutions/ms-go-bakong/app/apierr"
)

var (
	ErrInvalidRequest           = fmt.Errorf("invalid request: %w", apierr.ErrValidation)
	ErrInvalidHash              = fmt.Errorf("md5 hash must be 32 hex characters: %w", apierr.ErrValidation)
	ErrTooManyHashes            = fmt.Errorf("bulk check is limited to 50 hashes: %w", apierr.ErrValidation)
	ErrInvalidPlan              = fmt.Errorf("invalid plan type: %w", apierr.ErrValidation)
	ErrInvalidPlanChange        = fmt.Errorf("plan change in this direction is not allowed: %w", apierr.ErrValidation)
	ErrPaymentNotFound          = fmt.Errorf("payment not found: %w", apierr.ErrNotFound)
	ErrQRImageNotFound          = fmt.Errorf("qr image not found: %w", apierr.ErrNotFound)
	ErrPaymentAlreadyExists     = fmt.Errorf("payment already exists: %w", apierr.ErrConflict)
	ErrInvalidStatus            = fmt.Errorf("invalid status: %w", apierr.ErrConflict)
	ErrSubscriptionNotFound     = fmt.Errorf("subscription not found: %w", apierr.ErrNotFound)
	ErrActiveSubscriptionExists = fmt.Errorf("user already has an active subscription: %w", apierr.ErrConflict)
	ErrAlreadyOnPlan            = fmt.Errorf("already on requested plan: %w", apierr.ErrConflict)
)
