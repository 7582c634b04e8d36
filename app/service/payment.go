package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/factory"
	"github.com/vibast-solutions/ms-go-bakong/app/khqr"
	"github.com/vibast-solutions/ms-go-bakong/app/provider"
	"github.com/vibast-solutions/ms-go-bakong/app/repository"
	"github.com/vibast-solutions/ms-go-bakong/app/storage"
	"github.com/vibast-solutions/ms-go-bakong/config"
)

const (
	defaultBatchSize        = int32(100)
	defaultHistoryLimit     = int32(50)
	defaultBillNumberPrefix = "DT"
)

var md5Pattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

type createPaymentRequest interface {
	GetUserId() string
	GetPlanType() string
	GetAmount() string
	GetCurrency() string
	GetBillNumber() string
	GetIsRenewal() bool
	GetAppName() string
	GetAppIconUrl() string
	GetCallback() string
}

type paymentRepository interface {
	Create(ctx context.Context, payment *entity.PaymentTransaction) error
	FindByID(ctx context.Context, id uint64) (*entity.PaymentTransaction, error)
	FindByMD5(ctx context.Context, md5Hash string) (*entity.PaymentTransaction, error)
	FindByMD5List(ctx context.Context, md5Hashes []string) ([]*entity.PaymentTransaction, error)
	ListByUser(ctx context.Context, userID string, limit int32) ([]*entity.PaymentTransaction, error)
	TransitionStatus(ctx context.Context, t repository.StatusTransition) (bool, error)
	TouchCheck(ctx context.Context, id uint64, checkedAt time.Time) error
	AttachSubscription(ctx context.Context, id, subscriptionID uint64, updatedAt time.Time) error
	ListPendingForReconcile(ctx context.Context, createdBefore, checkedBefore time.Time, limit int32) ([]*entity.PaymentTransaction, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentTransaction, error)
	ListPaidUnapplied(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.PaymentTransaction, error)
}

type paymentHistoryRepository interface {
	Create(ctx context.Context, entry *entity.PaymentStatusHistory) error
	ListByTransaction(ctx context.Context, transactionID uint64, limit int32) ([]*entity.PaymentStatusHistory, error)
}

type subscriptionReader interface {
	FindByUserID(ctx context.Context, userID string) (*entity.Subscription, error)
}

// PaidHandler is told about every payment that reaches PAID.
type PaidHandler interface {
	HandlePaid(ctx context.Context, payment *entity.PaymentTransaction) (*entity.Subscription, error)
}

type DeepLinkInput struct {
	AppName    string
	AppIconURL string
	Callback   string
}

type InitiateInput struct {
	UserID   string
	PlanType entity.PlanType
	// Amount defaults to the plan price when zero.
	Amount         decimal.Decimal
	Currency       string
	BillNumber     string
	IsUpgrade      bool
	IsRenewal      bool
	ProratedAmount *decimal.Decimal
	SubscriptionID *uint64
	DeepLink       DeepLinkInput
}

type PaymentService struct {
	paymentRepo   paymentRepository
	historyRepo   paymentHistoryRepository
	subscriptions subscriptionReader
	settlement    provider.SettlementClient
	images        storage.Storage
	merchant      config.MerchantConfig
	plans         config.PlansConfig
	paymentsCfg   config.PaymentsConfig
	paidHandler   PaidHandler
	now           func() time.Time
	logger        logrus.FieldLogger
}

func NewPaymentService(
	paymentRepo paymentRepository,
	historyRepo paymentHistoryRepository,
	subscriptions subscriptionReader,
	settlement provider.SettlementClient,
	images storage.Storage,
	merchant config.MerchantConfig,
	plans config.PlansConfig,
	paymentsCfg config.PaymentsConfig,
) *PaymentService {
	return &PaymentService{
		paymentRepo:   paymentRepo,
		historyRepo:   historyRepo,
		subscriptions: subscriptions,
		settlement:    settlement,
		images:        images,
		merchant:      merchant,
		plans:         plans,
		paymentsCfg:   paymentsCfg,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        factory.NewModuleLogger("payment-service"),
	}
}

func (s *PaymentService) SetPaidHandler(h PaidHandler) {
	s.paidHandler = h
}

func (s *PaymentService) CreatePayment(ctx context.Context, req createPaymentRequest) (*entity.PaymentTransaction, error) {
	input := InitiateInput{
		UserID:     req.GetUserId(),
		PlanType:   entity.ParsePlanType(req.GetPlanType()),
		Currency:   req.GetCurrency(),
		BillNumber: req.GetBillNumber(),
		IsRenewal:  req.GetIsRenewal(),
		DeepLink: DeepLinkInput{
			AppName:    req.GetAppName(),
			AppIconURL: req.GetAppIconUrl(),
			Callback:   req.GetCallback(),
		},
	}
	if raw := strings.TrimSpace(req.GetAmount()); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, ErrInvalidRequest
		}
		input.Amount = amount
	}

	return s.Initiate(ctx, input)
}

func (s *PaymentService) Initiate(ctx context.Context, in InitiateInput) (*entity.PaymentTransaction, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if !in.PlanType.Valid() {
		return nil, ErrInvalidPlan
	}

	amount := in.Amount
	if amount.IsZero() {
		amount = PlanPrice(s.plans, in.PlanType)
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidRequest
	}

	currencyCode := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currencyCode == "" {
		currencyCode = s.plans.Currency
	}
	if currencyCode == "" {
		currencyCode = "USD"
	}
	currency, err := khqr.LookupCurrency(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if !in.IsRenewal && !in.IsUpgrade && s.subscriptions != nil {
		sub, err := s.subscriptions.FindByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if sub != nil && sub.Status == entity.SubscriptionStatusActive && !sub.Lapsed(s.now()) {
			if sub.PlanType == in.PlanType {
				return nil, ErrAlreadyOnPlan
			}
			return nil, ErrActiveSubscriptionExists
		}
	}

	now := s.now()
	billNumber := strings.TrimSpace(in.BillNumber)
	if billNumber == "" {
		billNumber, err = generateBillNumber(s.billPrefix(), now)
		if err != nil {
			return nil, err
		}
	}

	payload, err := khqr.Encode(khqr.Descriptor{
		AccountID:     s.merchant.AccountID,
		MerchantName:  s.merchant.Name,
		MerchantCity:  s.merchant.City,
		Phone:         s.merchant.Phone,
		CategoryCode:  s.merchant.CategoryCode,
		Amount:        amount,
		Currency:      currency.Code,
		BillNumber:    billNumber,
		StoreLabel:    s.merchant.StoreLabel,
		TerminalLabel: s.merchant.TerminalLabel,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := khqr.Verify(payload); err != nil {
		return nil, fmt.Errorf("verify generated payload: %w", err)
	}
	md5Hash := khqr.Hash(payload)

	imageURL, err := s.storeQRImage(ctx, md5Hash, payload)
	if err != nil {
		return nil, err
	}

	deepLink := s.deepLink(ctx, md5Hash, payload, in.DeepLink)

	payment := &entity.PaymentTransaction{
		UserID:         userID,
		BillNumber:     billNumber,
		MD5Hash:        md5Hash,
		Amount:         amount,
		Currency:       currency.Code,
		Status:         entity.PaymentStatusPending,
		PlanType:       in.PlanType,
		QRCode:         payload,
		QRImagePath:    imageURL,
		DeepLink:       &deepLink,
		SettlementData: map[string]string{},
		IsUpgrade:      in.IsUpgrade,
		IsRenewal:      in.IsRenewal,
		ProratedAmount: in.ProratedAmount,
		SubscriptionID: in.SubscriptionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyExists) {
			return nil, ErrPaymentAlreadyExists
		}
		s.discardQRImage(ctx, md5Hash)
		return nil, err
	}

	if err := s.historyRepo.Create(ctx, &entity.PaymentStatusHistory{
		TransactionID: payment.ID,
		NewStatus:     entity.PaymentStatusPending,
		Reason:        "Payment initiated",
		MetadataJSON: metadataJSON(map[string]string{
			"billNumber": billNumber,
			"amount":     currency.FormatAmount(amount),
			"currency":   currency.Code,
			"planType":   string(in.PlanType),
		}),
		CreatedAt: now,
	}); err != nil {
		s.logger.WithError(err).WithField("transaction_id", payment.ID).Warn("Failed to record payment history")
	}

	s.logger.WithFields(logrus.Fields{
		"transaction_id": payment.ID,
		"md5_hash":       md5Hash,
		"bill_number":    billNumber,
		"user_id":        userID,
	}).Info("Payment initiated")

	return payment, nil
}

func (s *PaymentService) CheckStatus(ctx context.Context, md5Hash string) (*entity.PaymentTransaction, error) {
	md5Hash = strings.ToLower(strings.TrimSpace(md5Hash))
	if !md5Pattern.MatchString(md5Hash) {
		return nil, ErrInvalidHash
	}

	payment, err := s.paymentRepo.FindByMD5(ctx, md5Hash)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}

	return s.refresh(ctx, payment)
}

// BulkCheck refreshes up to 50 payments with a single settlement call. Hashes with no
// local transaction are returned as unknown.
func (s *PaymentService) BulkCheck(ctx context.Context, md5Hashes []string) ([]*entity.PaymentTransaction, []string, error) {
	if len(md5Hashes) == 0 {
		return nil, nil, ErrInvalidRequest
	}
	if len(md5Hashes) > provider.MaxBulkHashes {
		return nil, nil, ErrTooManyHashes
	}

	hashes := make([]string, 0, len(md5Hashes))
	seen := make(map[string]struct{}, len(md5Hashes))
	for _, raw := range md5Hashes {
		hash := strings.ToLower(strings.TrimSpace(raw))
		if !md5Pattern.MatchString(hash) {
			return nil, nil, ErrInvalidHash
		}
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		hashes = append(hashes, hash)
	}

	items, err := s.paymentRepo.FindByMD5List(ctx, hashes)
	if err != nil {
		return nil, nil, err
	}
	byHash := make(map[string]*entity.PaymentTransaction, len(items))
	for _, item := range items {
		byHash[item.MD5Hash] = item
	}

	checkErr := s.refreshMany(ctx, byHash)

	payments := make([]*entity.PaymentTransaction, 0, len(byHash))
	unknown := make([]string, 0)
	for _, hash := range hashes {
		if item, ok := byHash[hash]; ok {
			payments = append(payments, item)
			continue
		}
		unknown = append(unknown, hash)
	}

	return payments, unknown, checkErr
}

func (s *PaymentService) GetPayment(ctx context.Context, id uint64) (*entity.PaymentTransaction, error) {
	payment, err := s.paymentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) GetByHash(ctx context.Context, md5Hash string) (*entity.PaymentTransaction, error) {
	md5Hash = strings.ToLower(strings.TrimSpace(md5Hash))
	if !md5Pattern.MatchString(md5Hash) {
		return nil, ErrInvalidHash
	}
	payment, err := s.paymentRepo.FindByMD5(ctx, md5Hash)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) ListHistory(ctx context.Context, id uint64) ([]*entity.PaymentStatusHistory, error) {
	if _, err := s.GetPayment(ctx, id); err != nil {
		return nil, err
	}
	return s.historyRepo.ListByTransaction(ctx, id, defaultHistoryLimit)
}

func (s *PaymentService) ListRecentByUser(ctx context.Context, userID string, limit int32) ([]*entity.PaymentTransaction, error) {
	return s.paymentRepo.ListByUser(ctx, userID, limit)
}

func (s *PaymentService) Cancel(ctx context.Context, id uint64, reason string) (*entity.PaymentTransaction, error) {
	payment, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != entity.PaymentStatusPending {
		return nil, ErrInvalidStatus
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Payment cancelled"
	}

	updated, changed, err := s.transition(ctx, payment, entity.PaymentStatusCancelled, nil, reason, false)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrInvalidStatus
	}
	return updated, nil
}

func (s *PaymentService) Health(ctx context.Context) error {
	return s.settlement.Health(ctx)
}

// refresh asks the network about a payment and counts the check. A terminal payment keeps
// its status whatever the network reports. On a settlement error the last known state is
// returned together with the error.
func (s *PaymentService) refresh(ctx context.Context, payment *entity.PaymentTransaction) (*entity.PaymentTransaction, error) {
	result, err := s.settlement.CheckStatus(ctx, payment.MD5Hash)
	if err != nil {
		s.touch(ctx, payment)
		return payment, err
	}

	return s.apply(ctx, payment, result)
}

// refreshMany is refresh for up to 50 payments in one settlement call.
func (s *PaymentService) refreshMany(ctx context.Context, byHash map[string]*entity.PaymentTransaction) error {
	hashes := make([]string, 0, len(byHash))
	for hash := range byHash {
		hashes = append(hashes, hash)
	}
	if len(hashes) == 0 {
		return nil
	}
	sort.Strings(hashes)

	results, err := s.settlement.BulkCheckStatus(ctx, hashes)
	if err != nil {
		for _, hash := range hashes {
			s.touch(ctx, byHash[hash])
		}
		return err
	}

	var firstErr error
	for _, result := range results {
		if result == nil {
			continue
		}
		item, ok := byHash[result.MD5Hash]
		if !ok {
			continue
		}
		updated, err := s.apply(ctx, item, result)
		if err != nil {
			s.logger.WithError(err).WithField("md5_hash", result.MD5Hash).Warn("Failed to apply bulk status")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		byHash[result.MD5Hash] = updated
	}

	return firstErr
}

func (s *PaymentService) apply(ctx context.Context, payment *entity.PaymentTransaction, result *provider.StatusResult) (*entity.PaymentTransaction, error) {
	if payment.Status.Terminal() {
		if result.Status != payment.Status && result.Status != entity.PaymentStatusPending {
			s.logger.WithFields(logrus.Fields{
				"transaction_id": payment.ID,
				"status":         payment.Status,
				"reported":       result.Status,
			}).Warn("Ignoring settlement report for terminal payment")
		}
		s.touch(ctx, payment)
		return payment, nil
	}

	if result.Status == payment.Status {
		s.touch(ctx, payment)
		return payment, nil
	}

	updated, changed, err := s.transition(ctx, payment, result.Status, result, "", true)
	if err != nil {
		return payment, err
	}
	if changed && updated.Status == entity.PaymentStatusPaid {
		if err := s.handOff(ctx, updated); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"transaction_id": updated.ID,
				"user_id":        updated.UserID,
			}).Error("Failed to update subscription for paid payment, will retry")
		}
	}
	return updated, nil
}

// transition applies a compare-and-swap out of PENDING. When another writer won the race,
// the stored row is returned and changed is false.
func (s *PaymentService) transition(
	ctx context.Context,
	payment *entity.PaymentTransaction,
	to entity.PaymentStatus,
	result *provider.StatusResult,
	reason string,
	countCheck bool,
) (*entity.PaymentTransaction, bool, error) {
	now := s.now()
	from := payment.Status

	t := repository.StatusTransition{
		ID:        payment.ID,
		From:      from,
		To:        to,
		UpdatedAt: now,
	}
	if countCheck {
		t.CheckedAt = &now
	}
	switch to {
	case entity.PaymentStatusPaid:
		paidAt := now
		if result != nil && result.PaidAt != nil {
			paidAt = result.PaidAt.UTC()
		}
		t.PaidAt = &paidAt
	case entity.PaymentStatusExpired, entity.PaymentStatusTimeout:
		t.ExpiredAt = &now
	}
	if result != nil && len(result.Metadata) > 0 {
		t.SettlementData = result.Metadata
	}

	changed, err := s.paymentRepo.TransitionStatus(ctx, t)
	if err != nil {
		return payment, false, err
	}
	if !changed {
		current, err := s.paymentRepo.FindByID(ctx, payment.ID)
		if err != nil {
			return payment, false, err
		}
		if current == nil {
			return payment, false, ErrPaymentNotFound
		}
		s.logger.WithFields(logrus.Fields{
			"transaction_id": payment.ID,
			"status":         current.Status,
			"wanted":         to,
		}).Info("Payment already moved by another writer")
		return current, false, nil
	}

	updated := *payment
	updated.Status = to
	updated.UpdatedAt = now
	if t.PaidAt != nil {
		updated.PaidAt = t.PaidAt
	}
	if t.ExpiredAt != nil {
		updated.ExpiredAt = t.ExpiredAt
	}
	if t.SettlementData != nil {
		updated.SettlementData = t.SettlementData
	}
	if countCheck {
		updated.CheckAttempts++
		updated.LastCheckedAt = &now
	}

	if reason == "" {
		reason = fmt.Sprintf("Status changed from %s to %s", from, to)
	}
	oldStatus := from
	var metadata *string
	if t.SettlementData != nil {
		metadata = metadataJSON(t.SettlementData)
	}
	if err := s.historyRepo.Create(ctx, &entity.PaymentStatusHistory{
		TransactionID: payment.ID,
		OldStatus:     &oldStatus,
		NewStatus:     to,
		Reason:        reason,
		MetadataJSON:  metadata,
		CreatedAt:     now,
	}); err != nil {
		s.logger.WithError(err).WithField("transaction_id", payment.ID).Warn("Failed to record payment history")
	}

	s.logger.WithFields(logrus.Fields{
		"transaction_id": payment.ID,
		"md5_hash":       payment.MD5Hash,
		"old_status":     from,
		"status":         to,
	}).Info("Payment status changed")

	return &updated, true, nil
}

func (s *PaymentService) timeout(ctx context.Context, payment *entity.PaymentTransaction, reason string) (*entity.PaymentTransaction, error) {
	if payment.Status.Terminal() {
		return payment, nil
	}
	updated, _, err := s.transition(ctx, payment, entity.PaymentStatusTimeout, nil, reason, false)
	return updated, err
}

func (s *PaymentService) touch(ctx context.Context, payment *entity.PaymentTransaction) {
	now := s.now()
	if err := s.paymentRepo.TouchCheck(ctx, payment.ID, now); err != nil {
		s.logger.WithError(err).WithField("transaction_id", payment.ID).Warn("Failed to record status check")
		return
	}
	payment.CheckAttempts++
	payment.LastCheckedAt = &now
}

// handOff applies a PAID payment to its subscription and marks it applied. A payment left
// unmarked is picked up again by RunRetryHandOffBatch.
func (s *PaymentService) handOff(ctx context.Context, payment *entity.PaymentTransaction) error {
	if s.paidHandler == nil {
		return nil
	}

	sub, err := s.paidHandler.HandlePaid(ctx, payment)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	now := s.now()
	if err := s.paymentRepo.AttachSubscription(ctx, payment.ID, sub.ID, now); err != nil {
		return fmt.Errorf("link subscription %d: %w", sub.ID, err)
	}
	subscriptionID := sub.ID
	payment.SubscriptionID = &subscriptionID
	payment.SubscriptionAppliedAt = &now
	payment.UpdatedAt = now
	return nil
}

func (s *PaymentService) storeQRImage(ctx context.Context, md5Hash, payload string) (string, error) {
	size := s.paymentsCfg.QRImageSize
	if size <= 0 {
		size = khqr.DefaultImageSize
	}
	image, err := khqr.RenderPNG(payload, size)
	if err != nil {
		return "", err
	}

	path := storage.QRImagePath(md5Hash)
	exists, err := s.images.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("check qr image: %w", err)
	}
	if exists {
		return s.images.GetURL(ctx, path)
	}
	if err := s.images.Save(ctx, path, bytes.NewReader(image), khqr.ImageContentType); err != nil {
		return "", fmt.Errorf("store qr image: %w", err)
	}
	return s.images.GetURL(ctx, path)
}

func (s *PaymentService) discardQRImage(ctx context.Context, md5Hash string) {
	if err := s.images.Delete(ctx, storage.QRImagePath(md5Hash)); err != nil {
		s.logger.WithError(err).WithField("md5_hash", md5Hash).Warn("Failed to remove orphaned qr image")
	}
}

// QRImage opens the rendered PNG of a payment. The caller closes the reader.
func (s *PaymentService) QRImage(ctx context.Context, id uint64) (io.ReadCloser, error) {
	payment, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	exists, err := s.images.Exists(ctx, storage.QRImagePath(payment.MD5Hash))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrQRImageNotFound
	}
	return s.images.Get(ctx, storage.QRImagePath(payment.MD5Hash))
}

func (s *PaymentService) deepLink(ctx context.Context, md5Hash, payload string, in DeepLinkInput) string {
	opts := khqr.DeepLinkOptions{
		Callback:   firstNonEmpty(in.Callback, s.merchant.AppCallback),
		AppIconURL: firstNonEmpty(in.AppIconURL, s.merchant.AppIconURL),
		AppName:    firstNonEmpty(in.AppName, s.merchant.AppName),
	}

	link, err := s.settlement.GenerateDeepLink(ctx, payload, provider.DeepLinkSource{
		AppIconURL:  opts.AppIconURL,
		AppName:     opts.AppName,
		AppCallback: opts.Callback,
	})
	if err != nil {
		s.logger.WithError(err).WithField("md5_hash", md5Hash).Warn("Deep link generation failed, using local link")
	}
	if err == nil && link != nil && *link != "" {
		return *link
	}
	return khqr.BuildDeepLink(payload, opts)
}

func (s *PaymentService) billPrefix() string {
	prefix := strings.TrimSpace(s.paymentsCfg.BillNumberPrefix)
	if prefix == "" {
		return defaultBillNumberPrefix
	}
	return prefix
}

func (s *PaymentService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize <= 0 {
		return defaultBatchSize
	}
	return s.paymentsCfg.JobBatchSize
}

func generateBillNumber(prefix string, now time.Time) (string, error) {
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}
	return strings.ToUpper(prefix + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + hex.EncodeToString(random)), nil
}

func metadataJSON(v interface{}) *string {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	raw := string(payload)
	return &raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
