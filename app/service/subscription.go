package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/factory"
	"github.com/vibast-solutions/ms-go-bakong/app/repository"
	"github.com/vibast-solutions/ms-go-bakong/config"
)

const (
	BillingCycle              = 30 * 24 * time.Hour
	billingCycleDays          = 30
	defaultCancelReason       = "User requested cancellation"
	recentPaymentsLimit       = int32(5)
	subscriptionHistoryLimit  = int32(10)
	defaultPremiumPrice       = "0.50"
	defaultFamilyPremiumPrice = "1.00"
)

type subscriptionRepository interface {
	Create(ctx context.Context, sub *entity.Subscription) error
	Update(ctx context.Context, sub *entity.Subscription) error
	ExpireIfLapsed(ctx context.Context, id uint64, now time.Time) (bool, error)
	FindByUserID(ctx context.Context, userID string) (*entity.Subscription, error)
	ListLapsed(ctx context.Context, now time.Time, limit int32) ([]*entity.Subscription, error)
}

type subscriptionHistoryRepository interface {
	Create(ctx context.Context, entry *entity.SubscriptionStatusHistory) error
	ListBySubscription(ctx context.Context, subscriptionID uint64, limit int32) ([]*entity.SubscriptionStatusHistory, error)
}

type paymentInitiator interface {
	Initiate(ctx context.Context, in InitiateInput) (*entity.PaymentTransaction, error)
}

type userPaymentLister interface {
	ListByUser(ctx context.Context, userID string, limit int32) ([]*entity.PaymentTransaction, error)
}

type UpgradeQuote struct {
	Subscription    *entity.Subscription
	NewPlanType     entity.PlanType
	ProratedAmount  decimal.Decimal
	RequiresPayment bool
}

type UpgradeResult struct {
	Quote   *UpgradeQuote
	Payment *entity.PaymentTransaction
}

type SubscriptionStatus struct {
	Subscription   *entity.Subscription
	RecentPayments []*entity.PaymentTransaction
	History        []*entity.SubscriptionStatusHistory
}

type SubscriptionService struct {
	subRepo     subscriptionRepository
	historyRepo subscriptionHistoryRepository
	payments    userPaymentLister
	initiator   paymentInitiator
	plans       config.PlansConfig
	batch       int32
	now         func() time.Time
	logger      logrus.FieldLogger
}

func NewSubscriptionService(
	subRepo subscriptionRepository,
	historyRepo subscriptionHistoryRepository,
	payments userPaymentLister,
	initiator paymentInitiator,
	plans config.PlansConfig,
	paymentsCfg config.PaymentsConfig,
) *SubscriptionService {
	return &SubscriptionService{
		subRepo:     subRepo,
		historyRepo: historyRepo,
		payments:    payments,
		initiator:   initiator,
		plans:       plans,
		batch:       paymentsCfg.JobBatchSize,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      factory.NewModuleLogger("subscription-service"),
	}
}

// PlanPrice returns the configured monthly price of plan, or zero if unknown.
func PlanPrice(plans config.PlansConfig, plan entity.PlanType) decimal.Decimal {
	switch plan {
	case entity.PlanPremium:
		if plans.PremiumPrice.IsPositive() {
			return plans.PremiumPrice
		}
		return decimal.RequireFromString(defaultPremiumPrice)
	case entity.PlanFamilyPremium:
		if plans.FamilyPremiumPrice.IsPositive() {
			return plans.FamilyPremiumPrice
		}
		return decimal.RequireFromString(defaultFamilyPremiumPrice)
	default:
		return decimal.Zero
	}
}

// ProratedAmount charges the price difference for the days left in the cycle, rounded to
// cents and never negative.
func ProratedAmount(currentPrice, newPrice decimal.Decimal, remainingDays float64) decimal.Decimal {
	if remainingDays <= 0 {
		return decimal.Zero
	}
	amount := newPrice.Sub(currentPrice).
		Mul(decimal.NewFromFloat(remainingDays)).
		Div(decimal.NewFromInt(billingCycleDays)).
		Round(2)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

func remainingDays(sub *entity.Subscription, now time.Time) float64 {
	remaining := sub.NextBillingDate.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return remaining.Hours() / 24
}

// HandlePaid creates, renews or upgrades the subscription behind a PAID payment.
func (s *SubscriptionService) HandlePaid(ctx context.Context, payment *entity.PaymentTransaction) (*entity.Subscription, error) {
	switch {
	case payment.IsUpgrade:
		return s.ApplyUpgrade(ctx, payment.UserID, payment.PlanType)
	case payment.IsRenewal:
		return s.Renew(ctx, payment.UserID)
	default:
		paidAt := s.now()
		if payment.PaidAt != nil {
			paidAt = payment.PaidAt.UTC()
		}
		return s.Create(ctx, payment.UserID, payment.PlanType, paidAt)
	}
}

func (s *SubscriptionService) Create(ctx context.Context, userID string, plan entity.PlanType, paidAt time.Time) (*entity.Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidRequest
	}
	if !plan.Valid() {
		return nil, ErrInvalidPlan
	}

	now := s.now()
	existing, err := s.subRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Lapsed(now) {
		existing, err = s.expire(ctx, existing, now)
		if err != nil {
			return nil, err
		}
	}
	if existing != nil && existing.Status == entity.SubscriptionStatusActive {
		return nil, ErrActiveSubscriptionExists
	}

	sub := existing
	var oldStatus *entity.SubscriptionStatus
	if sub == nil {
		sub = &entity.Subscription{UserID: userID, CreatedAt: now}
	} else {
		previous := sub.Status
		oldStatus = &previous
	}

	sub.PlanType = plan
	sub.Status = entity.SubscriptionStatusActive
	sub.StartDate = paidAt
	sub.LastBillingDate = paidAt
	sub.NextBillingDate = paidAt.Add(BillingCycle)
	sub.CancelledAt = nil
	sub.CancellationReason = nil
	sub.ScheduledPlanType = nil
	sub.ScheduledChangeAt = nil
	sub.UpdatedAt = now

	if existing == nil {
		err = s.subRepo.Create(ctx, sub)
	} else {
		err = s.subRepo.Update(ctx, sub)
	}
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionAlreadyExists) {
			return nil, ErrActiveSubscriptionExists
		}
		return nil, err
	}

	s.record(ctx, sub, oldStatus, "Subscription created after successful payment", map[string]string{
		"planType":        string(plan),
		"nextBillingDate": sub.NextBillingDate.Format(time.RFC3339),
	})
	s.logger.WithFields(logrus.Fields{"user_id": userID, "plan_type": plan}).Info("Subscription created")

	return sub, nil
}

// Renew extends the cycle by 30 days from the previous billing date and applies any
// scheduled downgrade.
func (s *SubscriptionService) Renew(ctx context.Context, userID string) (*entity.Subscription, error) {
	sub, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	previousStatus := sub.Status
	previousNext := sub.NextBillingDate
	metadata := map[string]string{
		"previousNextBillingDate": previousNext.Format(time.RFC3339),
	}

	sub.NextBillingDate = previousNext.Add(BillingCycle)
	sub.LastBillingDate = now
	sub.Status = entity.SubscriptionStatusActive
	sub.CancelledAt = nil
	sub.CancellationReason = nil
	if sub.ScheduledPlanType != nil {
		metadata["previousPlanType"] = string(sub.PlanType)
		metadata["planType"] = string(*sub.ScheduledPlanType)
		sub.PlanType = *sub.ScheduledPlanType
		sub.ScheduledPlanType = nil
		sub.ScheduledChangeAt = nil
	}
	sub.UpdatedAt = now
	metadata["newNextBillingDate"] = sub.NextBillingDate.Format(time.RFC3339)

	if err := s.subRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.record(ctx, sub, &previousStatus, "Subscription renewed", metadata)
	s.logger.WithField("user_id", userID).Info("Subscription renewed")

	return sub, nil
}

// InitiateRenewal opens a renewal payment priced at the plan that will apply next cycle.
func (s *SubscriptionService) InitiateRenewal(ctx context.Context, userID string, link DeepLinkInput) (*entity.PaymentTransaction, error) {
	sub, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}

	plan := sub.PlanType
	if sub.ScheduledPlanType != nil {
		plan = *sub.ScheduledPlanType
	}
	subscriptionID := sub.ID

	return s.initiator.Initiate(ctx, InitiateInput{
		UserID:         sub.UserID,
		PlanType:       plan,
		Amount:         PlanPrice(s.plans, plan),
		Currency:       s.plans.Currency,
		IsRenewal:      true,
		SubscriptionID: &subscriptionID,
		DeepLink:       link,
	})
}

func (s *SubscriptionService) QuoteUpgrade(ctx context.Context, userID string, newPlan entity.PlanType) (*UpgradeQuote, error) {
	if !newPlan.Valid() {
		return nil, ErrInvalidPlan
	}
	sub, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sub.Status != entity.SubscriptionStatusActive || sub.Lapsed(now) {
		return nil, ErrInvalidStatus
	}
	if sub.PlanType == newPlan {
		return nil, ErrAlreadyOnPlan
	}
	if newPlan.Tier() < sub.PlanType.Tier() {
		return nil, ErrInvalidPlanChange
	}

	amount := ProratedAmount(PlanPrice(s.plans, sub.PlanType), PlanPrice(s.plans, newPlan), remainingDays(sub, now))
	return &UpgradeQuote{
		Subscription:    sub,
		NewPlanType:     newPlan,
		ProratedAmount:  amount,
		RequiresPayment: amount.IsPositive(),
	}, nil
}

// Upgrade quotes the change and opens a prorated payment. The plan changes only once that
// payment is PAID. When nothing is owed the quote is returned alone and the plan is left as is.
func (s *SubscriptionService) Upgrade(ctx context.Context, userID string, newPlan entity.PlanType, link DeepLinkInput) (*UpgradeResult, error) {
	quote, err := s.QuoteUpgrade(ctx, userID, newPlan)
	if err != nil {
		return nil, err
	}

	if !quote.RequiresPayment {
		return &UpgradeResult{Quote: quote}, nil
	}

	prorated := quote.ProratedAmount
	subscriptionID := quote.Subscription.ID
	payment, err := s.initiator.Initiate(ctx, InitiateInput{
		UserID:         quote.Subscription.UserID,
		PlanType:       newPlan,
		Amount:         prorated,
		Currency:       s.plans.Currency,
		IsUpgrade:      true,
		ProratedAmount: &prorated,
		SubscriptionID: &subscriptionID,
		DeepLink:       link,
	})
	if err != nil {
		return nil, err
	}

	return &UpgradeResult{Quote: quote, Payment: payment}, nil
}

func (s *SubscriptionService) ApplyUpgrade(ctx context.Context, userID string, newPlan entity.PlanType) (*entity.Subscription, error) {
	if !newPlan.Valid() {
		return nil, ErrInvalidPlan
	}
	sub, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status != entity.SubscriptionStatusActive {
		return nil, ErrInvalidStatus
	}
	if sub.PlanType == newPlan {
		return sub, nil
	}

	now := s.now()
	oldPlan := sub.PlanType
	status := sub.Status
	sub.PlanType = newPlan
	sub.ScheduledPlanType = nil
	sub.ScheduledChangeAt = nil
	sub.UpdatedAt = now

	if err := s.subRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.record(ctx, sub, &status, fmt.Sprintf("Plan upgraded from %s to %s", oldPlan, newPlan), map[string]string{
		"previousPlanType": string(oldPlan),
		"planType":         string(newPlan),
	})
	s.logger.WithFields(logrus.Fields{"user_id": userID, "plan_type": newPlan}).Info("Subscription upgraded")

	return sub, nil
}

// Downgrade schedules a lower plan for the next billing date. The current plan stays until then.
func (s *SubscriptionService) Downgrade(ctx context.Context, userID string, newPlan entity.PlanType) (*entity.Subscription, error) {
	if !newPlan.Valid() {
		return nil, ErrInvalidPlan
	}
	sub, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sub.Status != entity.SubscriptionStatusActive || sub.Lapsed(now) {
		return nil, ErrInvalidStatus
	}
	if sub.PlanType == newPlan {
		return nil, ErrAlreadyOnPlan
	}
	if newPlan.Tier() > sub.PlanType.Tier() {
		return nil, ErrInvalidPlanChange
	}

	changeAt := sub.NextBillingDate
	status := sub.Status
	sub.ScheduledPlanType = &newPlan
	sub.ScheduledChangeAt = &changeAt
	sub.UpdatedAt = now

	if err := s.subRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.record(ctx, sub, &status, fmt.Sprintf("Downgrade scheduled from %s to %s at next billing cycle", sub.PlanType, newPlan), map[string]string{
		"scheduledPlanType": string(newPlan),
		"scheduledChangeAt": changeAt.Format(time.RFC3339),
	})

	return sub, nil
}

func (s *SubscriptionService) Cancel(ctx context.Context, userID, reason string) (*entity.Subscription, error) {
	sub, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status == entity.SubscriptionStatusCancelled {
		return nil, ErrInvalidStatus
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultCancelReason
	}

	now := s.now()
	status := sub.Status
	sub.Status = entity.SubscriptionStatusCancelled
	sub.CancelledAt = &now
	sub.CancellationReason = &reason
	sub.ScheduledPlanType = nil
	sub.ScheduledChangeAt = nil
	sub.UpdatedAt = now

	if err := s.subRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.record(ctx, sub, &status, reason, nil)
	s.logger.WithField("user_id", userID).Info("Subscription cancelled")

	return sub, nil
}

// GetStatus returns the subscription with its recent payments and history. A lapsed ACTIVE
// subscription is expired on the way out.
func (s *SubscriptionService) GetStatus(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	sub, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sub.Lapsed(now) {
		sub, err = s.expire(ctx, sub, now)
		if err != nil {
			return nil, err
		}
	}

	payments, err := s.payments.ListByUser(ctx, sub.UserID, recentPaymentsLimit)
	if err != nil {
		return nil, err
	}
	history, err := s.historyRepo.ListBySubscription(ctx, sub.ID, subscriptionHistoryLimit)
	if err != nil {
		return nil, err
	}

	return &SubscriptionStatus{
		Subscription:   sub,
		RecentPayments: payments,
		History:        history,
	}, nil
}

func (s *SubscriptionService) RunExpireSubscriptionsBatch(ctx context.Context) error {
	now := s.now()
	items, err := s.subRepo.ListLapsed(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, item := range items {
		if _, err := s.expire(ctx, item, now); err != nil {
			s.logger.WithError(err).WithField("subscription_id", item.ID).Warn("Failed to expire subscription")
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *SubscriptionService) expire(ctx context.Context, sub *entity.Subscription, now time.Time) (*entity.Subscription, error) {
	changed, err := s.subRepo.ExpireIfLapsed(ctx, sub.ID, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		current, err := s.subRepo.FindByUserID(ctx, sub.UserID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrSubscriptionNotFound
		}
		return current, nil
	}

	status := sub.Status
	sub.Status = entity.SubscriptionStatusExpired
	sub.UpdatedAt = now
	s.record(ctx, sub, &status, "Subscription expired - payment not received", map[string]string{
		"nextBillingDate": sub.NextBillingDate.Format(time.RFC3339),
	})
	s.logger.WithField("subscription_id", sub.ID).Info("Subscription expired")

	return sub, nil
}

func (s *SubscriptionService) find(ctx context.Context, userID string) (*entity.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	sub, err := s.subRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *SubscriptionService) record(ctx context.Context, sub *entity.Subscription, oldStatus *entity.SubscriptionStatus, reason string, metadata map[string]string) {
	var raw *string
	if len(metadata) > 0 {
		raw = metadataJSON(metadata)
	}
	if err := s.historyRepo.Create(ctx, &entity.SubscriptionStatusHistory{
		SubscriptionID: sub.ID,
		OldStatus:      oldStatus,
		NewStatus:      sub.Status,
		Reason:         reason,
		MetadataJSON:   raw,
		CreatedAt:      s.now(),
	}); err != nil {
		s.logger.WithError(err).WithField("subscription_id", sub.ID).Warn("Failed to record subscription history")
	}
}

func (s *SubscriptionService) batchSize() int32 {
	if s.batch <= 0 {
		return defaultBatchSize
	}
	return s.batch
}
