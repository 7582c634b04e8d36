package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
)

func SubscriptionToType(item *entity.Subscription) *types.Subscription {
	if item == nil {
		return nil
	}

	result := &types.Subscription{
		Id:                 item.ID,
		UserId:             item.UserID,
		PlanType:           string(item.PlanType),
		Status:             string(item.Status),
		StartDate:          item.StartDate.UTC().Format(time.RFC3339),
		LastBillingDate:    item.LastBillingDate.UTC().Format(time.RFC3339),
		NextBillingDate:    item.NextBillingDate.UTC().Format(time.RFC3339),
		CancelledAt:        formatTime(item.CancelledAt),
		CancellationReason: derefString(item.CancellationReason),
		ScheduledChangeAt:  formatTime(item.ScheduledChangeAt),
		CreatedAt:          item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if item.ScheduledPlanType != nil {
		result.ScheduledPlanType = string(*item.ScheduledPlanType)
	}

	return result
}

func SubscriptionHistoryToType(items []*entity.SubscriptionStatusHistory) []*types.StatusHistory {
	result := make([]*types.StatusHistory, 0, len(items))
	for _, item := range items {
		entry := &types.StatusHistory{
			Id:        item.ID,
			NewStatus: string(item.NewStatus),
			Reason:    item.Reason,
			Metadata:  derefString(item.MetadataJSON),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339),
		}
		if item.OldStatus != nil {
			entry.OldStatus = string(*item.OldStatus)
		}
		result = append(result, entry)
	}
	return result
}
