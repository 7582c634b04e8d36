package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/khqr"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
)

func PaymentToType(item *entity.PaymentTransaction) *types.Payment {
	if item == nil {
		return nil
	}

	result := &types.Payment{
		Id:             item.ID,
		UserId:         item.UserID,
		BillNumber:     item.BillNumber,
		Md5Hash:        item.MD5Hash,
		QrCode:         item.QRCode,
		QrImageUrl:     item.QRImagePath,
		DeepLink:       derefString(item.DeepLink),
		Amount:         formatAmount(item),
		Currency:       item.Currency,
		Status:         string(item.Status),
		PlanType:       string(item.PlanType),
		IsUpgrade:      item.IsUpgrade,
		IsRenewal:      item.IsRenewal,
		SubscriptionId: derefUint64(item.SubscriptionID),
		CheckAttempts:  item.CheckAttempts,
		SettlementData: cloneMetadata(item.SettlementData),
		LastCheckedAt:  formatTime(item.LastCheckedAt),
		CreatedAt:      item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      item.UpdatedAt.UTC().Format(time.RFC3339),
		PaidAt:         formatTime(item.PaidAt),
		ExpiredAt:      formatTime(item.ExpiredAt),
	}
	if item.ProratedAmount != nil {
		result.ProratedAmount = item.ProratedAmount.StringFixed(2)
	}

	return result
}

func PaymentsToType(items []*entity.PaymentTransaction) []*types.Payment {
	result := make([]*types.Payment, 0, len(items))
	for _, item := range items {
		result = append(result, PaymentToType(item))
	}
	return result
}

func PaymentHistoryToType(items []*entity.PaymentStatusHistory) []*types.StatusHistory {
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

func formatAmount(item *entity.PaymentTransaction) string {
	currency, err := khqr.LookupCurrency(item.Currency)
	if err != nil {
		return item.Amount.StringFixed(2)
	}
	return currency.FormatAmount(item.Amount)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefUint64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

func formatTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
