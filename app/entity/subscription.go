package entity

import (
	"strings"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

type PlanType string

const (
	PlanPremium       PlanType = "PREMIUM"
	PlanFamilyPremium PlanType = "FAMILY_PREMIUM"
)

// Tier orders plans by entitlement. Unknown plans rank 0.
func (p PlanType) Tier() int {
	switch p {
	case PlanPremium:
		return 1
	case PlanFamilyPremium:
		return 2
	default:
		return 0
	}
}

func (p PlanType) Valid() bool {
	return p.Tier() > 0
}

func ParsePlanType(raw string) PlanType {
	return PlanType(strings.ToUpper(strings.TrimSpace(raw)))
}

type Subscription struct {
	ID uint64

	UserID   string
	PlanType PlanType
	Status   SubscriptionStatus

	StartDate       time.Time
	LastBillingDate time.Time
	NextBillingDate time.Time

	CancelledAt        *time.Time
	CancellationReason *string

	ScheduledPlanType *PlanType
	ScheduledChangeAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lapsed reports an ACTIVE subscription whose billing date has passed.
func (s *Subscription) Lapsed(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.NextBillingDate.Before(now)
}
