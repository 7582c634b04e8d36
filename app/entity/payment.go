package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
	PaymentStatusTimeout   PaymentStatus = "TIMEOUT"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentStatusPending
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed,
		PaymentStatusExpired, PaymentStatusTimeout, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

type PaymentTransaction struct {
	ID uint64

	UserID     string
	BillNumber string
	MD5Hash    string

	Amount   decimal.Decimal
	Currency string

	Status   PaymentStatus
	PlanType PlanType

	QRCode      string
	QRImagePath string
	DeepLink    *string

	SettlementData map[string]string

	IsUpgrade      bool
	IsRenewal      bool
	ProratedAmount *decimal.Decimal
	SubscriptionID *uint64

	// SubscriptionAppliedAt is set once a PAID payment has been applied to its subscription.
	SubscriptionAppliedAt *time.Time

	CheckAttempts int32
	LastCheckedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
	ExpiredAt *time.Time
}
