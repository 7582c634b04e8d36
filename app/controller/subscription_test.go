package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
)

type controllerSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]*entity.Subscription
}

func newControllerSubscriptionRepo() *controllerSubscriptionRepo {
	return &controllerSubscriptionRepo{subs: map[string]*entity.Subscription{}}
}

func (r *controllerSubscriptionRepo) Create(_ context.Context, sub *entity.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub.ID = uint64(len(r.subs) + 1)
	copyItem := *sub
	r.subs[sub.UserID] = &copyItem
	return nil
}

func (r *controllerSubscriptionRepo) Update(_ context.Context, sub *entity.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyItem := *sub
	r.subs[sub.UserID] = &copyItem
	return nil
}

func (r *controllerSubscriptionRepo) ExpireIfLapsed(_ context.Context, id uint64, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.subs {
		if item.ID == id && item.Lapsed(now) {
			item.Status = entity.SubscriptionStatusExpired
			return true, nil
		}
	}
	return false, nil
}

func (r *controllerSubscriptionRepo) FindByUserID(_ context.Context, userID string) (*entity.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.subs[userID]; ok {
		copyItem := *item
		return &copyItem, nil
	}
	return nil, nil
}

func (r *controllerSubscriptionRepo) ListLapsed(context.Context, time.Time, int32) ([]*entity.Subscription, error) {
	return []*entity.Subscription{}, nil
}

type controllerSubscriptionHistoryRepo struct{}

func (r *controllerSubscriptionHistoryRepo) Create(context.Context, *entity.SubscriptionStatusHistory) error {
	return nil
}

func (r *controllerSubscriptionHistoryRepo) ListBySubscription(context.Context, uint64, int32) ([]*entity.SubscriptionStatusHistory, error) {
	return []*entity.SubscriptionStatusHistory{}, nil
}

func (f *controllerFixture) seedSubscription(plan entity.PlanType, remaining time.Duration) {
	now := time.Now().UTC()
	_ = f.subRepo.Create(context.Background(), &entity.Subscription{
		UserID:          "user-1",
		PlanType:        plan,
		Status:          entity.SubscriptionStatusActive,
		StartDate:       now.Add(-24 * time.Hour),
		LastBillingDate: now.Add(-24 * time.Hour),
		NextBillingDate: now.Add(remaining),
	})
}

func TestGetSubscriptionStatusNotFound(t *testing.T) {
	f := newControllerFixture(t)
	ctx, rec := newJSONContext(http.MethodGet, "/api/subscriptions/status/nobody", "")
	ctx.SetParamNames("userId")
	ctx.SetParamValues("nobody")

	_ = f.subscriptions.GetStatus(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetSubscriptionStatus(t *testing.T) {
	f := newControllerFixture(t)
	f.seedSubscription(entity.PlanPremium, 10*24*time.Hour)
	ctx, rec := newJSONContext(http.MethodGet, "/api/subscriptions/status/user-1", "")
	ctx.SetParamNames("userId")
	ctx.SetParamValues("user-1")

	_ = f.subscriptions.GetStatus(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var payload types.SubscriptionStatusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Subscription == nil || payload.Subscription.Status != "ACTIVE" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestUpgradeReturnsProratedPayment(t *testing.T) {
	f := newControllerFixture(t)
	f.seedSubscription(entity.PlanPremium, 15*24*time.Hour+time.Minute)
	ctx, rec := newJSONContext(http.MethodPost, "/api/subscriptions/upgrade", `{"user_id":"user-1","new_plan_type":"FAMILY_PREMIUM"}`)

	_ = f.subscriptions.Upgrade(ctx)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	var payload types.UpgradeSubscriptionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.ProratedAmount != "0.25" || !payload.RequiresPayment || payload.Payment == nil {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !payload.Payment.IsUpgrade || payload.Subscription.PlanType != "PREMIUM" {
		t.Fatalf("plan should only change after payment: %+v", payload)
	}
}

func TestUpgradeSamePlanConflicts(t *testing.T) {
	f := newControllerFixture(t)
	f.seedSubscription(entity.PlanPremium, 15*24*time.Hour)
	ctx, rec := newJSONContext(http.MethodPost, "/api/subscriptions/upgrade", `{"user_id":"user-1","new_plan_type":"PREMIUM"}`)

	_ = f.subscriptions.Upgrade(ctx)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDowngradeToHigherPlanRejected(t *testing.T) {
	f := newControllerFixture(t)
	f.seedSubscription(entity.PlanPremium, 15*24*time.Hour)
	ctx, rec := newJSONContext(http.MethodPost, "/api/subscriptions/downgrade", `{"user_id":"user-1","new_plan_type":"FAMILY_PREMIUM"}`)

	_ = f.subscriptions.Downgrade(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCancelSubscription(t *testing.T) {
	f := newControllerFixture(t)
	f.seedSubscription(entity.PlanPremium, 15*24*time.Hour)
	ctx, rec := newJSONContext(http.MethodPost, "/api/subscriptions/cancel", `{"user_id":"user-1"}`)

	_ = f.subscriptions.Cancel(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var payload types.SubscriptionEnvelopeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Subscription.Status != "CANCELLED" || payload.Subscription.CancellationReason != "User requested cancellation" {
		t.Fatalf("unexpected payload %+v", payload.Subscription)
	}
}

func TestRenewSubscriptionOpensPayment(t *testing.T) {
	f := newControllerFixture(t)
	f.seedSubscription(entity.PlanFamilyPremium, 2*24*time.Hour)
	ctx, rec := newJSONContext(http.MethodPost, "/api/subscriptions/renew", `{"user_id":"user-1"}`)

	_ = f.subscriptions.Renew(ctx)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	var payload types.PaymentEnvelopeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if !payload.Payment.IsRenewal || payload.Payment.Amount != "1.00" {
		t.Fatalf("unexpected payment %+v", payload.Payment)
	}
}
