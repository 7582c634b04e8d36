package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-bakong/app/entity"
)

var (
	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
)

const subscriptionColumns = `
	id, user_id, plan_type, status, start_date, last_billing_date, next_billing_date,
	cancelled_at, cancellation_reason, scheduled_plan_type, scheduled_change_at,
	created_at, updated_at
`

type SubscriptionRepository struct {
	db DBTX
}

func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *entity.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			user_id, plan_type, status, start_date, last_billing_date, next_billing_date,
			cancelled_at, cancellation_reason, scheduled_plan_type, scheduled_change_at,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		sub.UserID,
		sub.PlanType,
		sub.Status,
		sub.StartDate,
		sub.LastBillingDate,
		sub.NextBillingDate,
		nullableTimeValue(sub.CancelledAt),
		nullableStringValue(sub.CancellationReason),
		nullablePlanValue(sub.ScheduledPlanType),
		nullableTimeValue(sub.ScheduledChangeAt),
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrSubscriptionAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	sub.ID = uint64(id)
	return nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, sub *entity.Subscription) error {
	query := `
		UPDATE subscriptions SET
			plan_type = ?,
			status = ?,
			start_date = ?,
			last_billing_date = ?,
			next_billing_date = ?,
			cancelled_at = ?,
			cancellation_reason = ?,
			scheduled_plan_type = ?,
			scheduled_change_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		sub.PlanType,
		sub.Status,
		sub.StartDate,
		sub.LastBillingDate,
		sub.NextBillingDate,
		nullableTimeValue(sub.CancelledAt),
		nullableStringValue(sub.CancellationReason),
		nullablePlanValue(sub.ScheduledPlanType),
		nullableTimeValue(sub.ScheduledChangeAt),
		sub.UpdatedAt,
		sub.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ExpireIfLapsed flips an ACTIVE subscription past its billing date to EXPIRED. It reports
// whether this call made the change.
func (r *SubscriptionRepository) ExpireIfLapsed(ctx context.Context, id uint64, now time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND next_billing_date < ?
	`

	result, err := r.db.ExecContext(ctx, query,
		entity.SubscriptionStatusExpired,
		now,
		id,
		entity.SubscriptionStatusActive,
		now,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id uint64) (*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = ?`

	sub := &entity.Subscription{}
	if err := scanSubscription(r.db.QueryRowContext(ctx, query, id), sub); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *SubscriptionRepository) FindByUserID(ctx context.Context, userID string) (*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = ? LIMIT 1`

	sub := &entity.Subscription{}
	if err := scanSubscription(r.db.QueryRowContext(ctx, query, userID), sub); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *SubscriptionRepository) ListLapsed(ctx context.Context, now time.Time, limit int32) ([]*entity.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = ? AND next_billing_date < ?
		ORDER BY next_billing_date ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.SubscriptionStatusActive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Subscription, 0)
	for rows.Next() {
		item := &entity.Subscription{}
		if err := scanSubscription(rows, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func nullablePlanValue(v *entity.PlanType) interface{} {
	if v == nil {
		return nil
	}
	return string(*v)
}

func scanSubscription(scan rowScanner, sub *entity.Subscription) error {
	var cancelledAt sql.NullTime
	var cancellationReason sql.NullString
	var scheduledPlan sql.NullString
	var scheduledChangeAt sql.NullTime

	err := scan.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanType,
		&sub.Status,
		&sub.StartDate,
		&sub.LastBillingDate,
		&sub.NextBillingDate,
		&cancelledAt,
		&cancellationReason,
		&scheduledPlan,
		&scheduledChangeAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return err
	}

	sub.CancelledAt = timePtrFromNull(cancelledAt)
	sub.CancellationReason = stringPtrFromNull(cancellationReason)
	sub.ScheduledChangeAt = timePtrFromNull(scheduledChangeAt)
	if scheduledPlan.Valid {
		plan := entity.PlanType(scheduledPlan.String)
		sub.ScheduledPlanType = &plan
	}

	return nil
}
