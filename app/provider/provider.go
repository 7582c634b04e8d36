package provider

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
)

const MaxBulkHashes = 50

type StatusResult struct {
	MD5Hash  string
	Status   entity.PaymentStatus
	Found    bool
	Amount   decimal.Decimal
	Currency string
	PaidAt   *time.Time
	Metadata map[string]string
}

type DeepLinkSource struct {
	AppIconURL  string
	AppName     string
	AppCallback string
}

// SettlementClient is the view of the Bakong network the payment service depends on.
type SettlementClient interface {
	CheckStatus(ctx context.Context, md5Hash string) (*StatusResult, error)
	BulkCheckStatus(ctx context.Context, md5Hashes []string) ([]*StatusResult, error)
	// GenerateDeepLink returns nil without error when the network issued no link.
	GenerateDeepLink(ctx context.Context, qr string, source DeepLinkSource) (*string, error)
	Health(ctx context.Context) error
}

// MapStatus folds the network's vocabulary onto the local payment states.
func MapStatus(raw string) entity.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETED", "SUCCESS", "PAID":
		return entity.PaymentStatusPaid
	case "FAILED", "REJECTED":
		return entity.PaymentStatusFailed
	case "EXPIRED":
		return entity.PaymentStatusExpired
	default:
		return entity.PaymentStatusPending
	}
}
