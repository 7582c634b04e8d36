package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-bakong/app/entity"
)

type PaymentHistoryRepository struct {
	db DBTX
}

func NewPaymentHistoryRepository(db DBTX) *PaymentHistoryRepository {
	return &PaymentHistoryRepository{db: db}
}

func (r *PaymentHistoryRepository) Create(ctx context.Context, entry *entity.PaymentStatusHistory) error {
	query := `
		INSERT INTO payment_status_history (
			transaction_id, old_status, new_status, reason, metadata_json, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var oldStatus interface{}
	if entry.OldStatus != nil {
		oldStatus = string(*entry.OldStatus)
	}

	result, err := r.db.ExecContext(ctx, query,
		entry.TransactionID,
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

func (r *PaymentHistoryRepository) ListByTransaction(ctx context.Context, transactionID uint64, limit int32) ([]*entity.PaymentStatusHistory, error) {
	query := `
		SELECT id, transaction_id, old_status, new_status, reason, metadata_json, created_at
		FROM payment_status_history
		WHERE transaction_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, transactionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.PaymentStatusHistory, 0)
	for rows.Next() {
		var oldStatus sql.NullString
		var metadataJSON sql.NullString
		item := &entity.PaymentStatusHistory{}
		if err := rows.Scan(&item.ID, &item.TransactionID, &oldStatus, &item.NewStatus, &item.Reason, &metadataJSON, &item.CreatedAt); err != nil {
			return nil, err
		}
		if oldStatus.Valid {
			status := entity.PaymentStatus(oldStatus.String)
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
