package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-bakong/app/entity"
)

type SubscriptionHistoryRepository struct {
	db DBTX
}

func NewSubscriptionHistoryRepository(db DBTX) *SubscriptionHistoryRepository {
	return &SubscriptionHistoryRepository{db: db}
}

func (r *SubscriptionHistoryRepository) Create(ctx context.Context, entry *entity.SubscriptionStatusHistory) error {
	query := `
		INSERT INTO subscription_status_history (
			subscription_id, old_status, new_status, reason, metadata_json, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var oldStatus interface{}
	if entry.OldStatus != nil {
		oldStatus = string(*entry.OldStatus)
	}

	result, err := r.db.ExecContext(ctx, query,
		entry.SubscriptionID,
		oldStatus,
		entry.NewStatus,
		entry.Reason,
		nullableStringValue(entry.MetadataJSON),
		entry.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = uint64(id)

	return nil
}

func (r *SubscriptionHistoryRepository) ListBySubscription(ctx context.Context, subscriptionID uint64, limit int32) ([]*entity.SubscriptionStatusHistory, error) {
	query := `
		SELECT id, subscription_id, old_status, new_status, reason, metadata_json, created_at
		FROM subscription_status_history
		WHERE subscription_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.SubscriptionStatusHistory, 0)
	for rows.Next() {
		var oldStatus sql.NullString
		var metadataJSON sql.NullString
		item := &entity.SubscriptionStatusHistory{}
		if err := rows.Scan(&item.ID, &item.SubscriptionID, &oldStatus, &item.NewStatus, &item.Reason, &metadataJSON, &item.CreatedAt); err != nil {
			return nil, err
		}
		if oldStatus.Valid {
			status := entity.SubscriptionStatus(oldStatus.String)
			item.OldStatus = &status
		}
		item.MetadataJSON = stringPtrFromNull(metadataJSON)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
