package entity

import "time"

// PaymentStatusHistory rows are append only.
type PaymentStatusHistory struct {
	ID uint64

	TransactionID uint64

	OldStatus *PaymentStatus
	NewStatus PaymentStatus

	Reason       string
	MetadataJSON *string

	CreatedAt time.Time
}

type SubscriptionStatusHistory struct {
	ID uint64

	SubscriptionID uint64

	OldStatus *SubscriptionStatus
	NewStatus SubscriptionStatus

	Reason       string
	MetadataJSON *string

	CreatedAt time.Time
}
