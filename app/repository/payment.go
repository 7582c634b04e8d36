package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
)

const paymentColumns = `
	id, user_id, bill_number, md5_hash, amount, currency, status, plan_type,
	qr_code, qr_image_path, deep_link, settlement_data_json,
	is_upgrade, is_renewal, prorated_amount, subscription_id,
	check_attempts, last_checked_at, created_at, updated_at, paid_at, expired_at,
	subscription_applied_at
`

// StatusTransition moves a payment out of From. It only applies while the stored status
// still equals From.
type StatusTransition struct {
	ID             uint64
	From           entity.PaymentStatus
	To             entity.PaymentStatus
	SettlementData map[string]string
	PaidAt         *time.Time
	ExpiredAt      *time.Time
	// CheckedAt, when set, also counts the transition as a status check.
	CheckedAt *time.Time
	UpdatedAt time.Time
}

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.PaymentTransaction) error {
	settlementJSON, err := serializeMetadata(payment.SettlementData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payment_transactions (
			user_id, bill_number, md5_hash, amount, currency, status, plan_type,
			qr_code, qr_image_path, deep_link, settlement_data_json,
			is_upgrade, is_renewal, prorated_amount, subscription_id,
			check_attempts, last_checked_at, created_at, updated_at, paid_at, expired_at,
			subscription_applied_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.UserID,
		payment.BillNumber,
		payment.MD5Hash,
		payment.Amount.String(),
		payment.Currency,
		payment.Status,
		payment.PlanType,
		payment.QRCode,
		payment.QRImagePath,
		nullableStringValue(payment.DeepLink),
		settlementJSON,
		payment.IsUpgrade,
		payment.IsRenewal,
		nullableDecimalValue(payment.ProratedAmount),
		nullableUint64Value(payment.SubscriptionID),
		payment.CheckAttempts,
		nullableTimeValue(payment.LastCheckedAt),
		payment.CreatedAt,
		payment.UpdatedAt,
		nullableTimeValue(payment.PaidAt),
		nullableTimeValue(payment.ExpiredAt),
		nullableTimeValue(payment.SubscriptionAppliedAt),
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(id)
	return nil
}

// TransitionStatus reports false when the row had already left From.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, t StatusTransition) (bool, error) {
	var settlementJSON interface{}
	if t.SettlementData != nil {
		raw, err := serializeMetadata(t.SettlementData)
		if err != nil {
			return false, err
		}
		settlementJSON = raw
	}

	sets := []string{
		"status = ?",
		"settlement_data_json = COALESCE(?, settlement_data_json)",
		"paid_at = COALESCE(?, paid_at)",
		"expired_at = COALESCE(?, expired_at)",
	}
	args := []interface{}{t.To, settlementJSON, nullableTimeValue(t.PaidAt), nullableTimeValue(t.ExpiredAt)}
	if t.CheckedAt != nil {
		sets = append(sets, "check_attempts = check_attempts + 1", "last_checked_at = ?")
		args = append(args, *t.CheckedAt)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, t.UpdatedAt, t.ID, t.From)

	query := "UPDATE payment_transactions SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status = ?"

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *PaymentRepository) TouchCheck(ctx context.Context, id uint64, checkedAt time.Time) error {
	query := `
		UPDATE payment_transactions
		SET check_attempts = check_attempts + 1, last_checked_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, checkedAt, checkedAt, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// AttachSubscription links the payment to its subscription and marks the hand-off as applied.
func (r *PaymentRepository) AttachSubscription(ctx context.Context, id, subscriptionID uint64, updatedAt time.Time) error {
	query := `
		UPDATE payment_transactions
		SET subscription_id = ?, subscription_applied_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, subscriptionID, updatedAt, updatedAt, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE id = ?`

	payment := &entity.PaymentTransaction{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, id), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) FindByMD5(ctx context.Context, md5Hash string) (*entity.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE md5_hash = ? LIMIT 1`

	payment := &entity.PaymentTransaction{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, md5Hash), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) FindByMD5List(ctx context.Context, md5Hashes []string) ([]*entity.PaymentTransaction, error) {
	if len(md5Hashes) == 0 {
		return []*entity.PaymentTransaction{}, nil
	}

	args := make([]interface{}, 0, len(md5Hashes))
	for _, hash := range md5Hashes {
		args = append(args, hash)
	}
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE md5_hash IN (` + placeholders(len(md5Hashes)) + `)`

	return r.list(ctx, query, args...)
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit int32) ([]*entity.PaymentTransaction, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return r.list(ctx, query, userID, limit)
}

// ListPendingForReconcile returns PENDING rows created before createdBefore that were not
// checked since checkedBefore.
func (r *PaymentRepository) ListPendingForReconcile(ctx context.Context, createdBefore, checkedBefore time.Time, limit int32) ([]*entity.PaymentTransaction, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE status = ?
		  AND created_at <= ?
		  AND (last_checked_at IS NULL OR last_checked_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?
	`
	return r.list(ctx, query, entity.PaymentStatusPending, createdBefore, checkedBefore, limit)
}

func (r *PaymentRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentTransaction, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE status = ?
		  AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	return r.list(ctx, query, entity.PaymentStatusPending, cutoff, limit)
}

// ListPaidUnapplied returns PAID rows whose subscription hand-off never completed and that
// were paid before cutoff.
func (r *PaymentRepository) ListPaidUnapplied(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentTransaction, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE status = ?
		  AND subscription_applied_at IS NULL
		  AND paid_at <= ?
		ORDER BY paid_at ASC
		LIMIT ?
	`
	return r.list(ctx, query, entity.PaymentStatusPaid, cutoff, limit)
}

func (r *PaymentRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.PaymentTransaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.PaymentTransaction, 0)
	for rows.Next() {
		item := &entity.PaymentTransaction{}
		if err := scanPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

func scanPayment(scan rowScanner, payment *entity.PaymentTransaction) error {
	var amount decimal.Decimal
	var deepLink sql.NullString
	var settlementJSON sql.NullString
	var prorated decimal.NullDecimal
	var subscriptionID sql.NullInt64
	var lastCheckedAt sql.NullTime
	var paidAt sql.NullTime
	var expiredAt sql.NullTime
	var appliedAt sql.NullTime

	err := scan.Scan(
		&payment.ID,
		&payment.UserID,
		&payment.BillNumber,
		&payment.MD5Hash,
		&amount,
		&payment.Currency,
		&payment.Status,
		&payment.PlanType,
		&payment.QRCode,
		&payment.QRImagePath,
		&deepLink,
		&settlementJSON,
		&payment.IsUpgrade,
		&payment.IsRenewal,
		&prorated,
		&subscriptionID,
		&payment.CheckAttempts,
		&lastCheckedAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&paidAt,
		&expiredAt,
		&appliedAt,
	)
	if err != nil {
		return err
	}

	payment.Amount = amount
	payment.DeepLink = stringPtrFromNull(deepLink)
	payment.ProratedAmount = decimalPtrFromNull(prorated)
	payment.SubscriptionID = uint64PtrFromNull(subscriptionID)
	payment.LastCheckedAt = timePtrFromNull(lastCheckedAt)
	payment.PaidAt = timePtrFromNull(paidAt)
	payment.ExpiredAt = timePtrFromNull(expiredAt)
	payment.SubscriptionAppliedAt = timePtrFromNull(appliedAt)

	settlement, err := parseMetadata(settlementJSON.String)
	if err != nil {
		return err
	}
	payment.SettlementData = settlement

	return nil
}
