package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-bakong/app/apierr"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/provider"
	"github.com/vibast-solutions/ms-go-bakong/app/repository"
	"github.com/vibast-solutions/ms-go-bakong/app/service"
	"github.com/vibast-solutions/ms-go-bakong/app/storage"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
	"github.com/vibast-solutions/ms-go-bakong/config"
)

type controllerPaymentRepo struct {
	mu       sync.Mutex
	payments map[uint64]*entity.PaymentTransaction
	nextID   uint64
}

func newControllerPaymentRepo() *controllerPaymentRepo {
	return &controllerPaymentRepo{payments: map[uint64]*entity.PaymentTransaction{}, nextID: 1}
}

func (r *controllerPaymentRepo) Create(_ context.Context, payment *entity.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment.ID = r.nextID
	r.nextID++
	copyItem := *payment
	r.payments[payment.ID] = &copyItem
	return nil
}

func (r *controllerPaymentRepo) FindByID(_ context.Context, id uint64) (*entity.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.payments[id]; ok {
		copyItem := *item
		return &copyItem, nil
	}
	return nil, nil
}

func (r *controllerPaymentRepo) FindByMD5(_ context.Context, md5Hash string) (*entity.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.payments {
		if item.MD5Hash == md5Hash {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *controllerPaymentRepo) FindByMD5List(ctx context.Context, md5Hashes []string) ([]*entity.PaymentTransaction, error) {
	items := make([]*entity.PaymentTransaction, 0)
	for _, hash := range md5Hashes {
		item, _ := r.FindByMD5(ctx, hash)
		if item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *controllerPaymentRepo) ListByUser(_ context.Context, userID string, _ int32) ([]*entity.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.PaymentTransaction, 0)
	for _, item := range r.payments {
		if item.UserID == userID {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	return items, nil
}

func (r *controllerPaymentRepo) TransitionStatus(_ context.Context, t repository.StatusTransition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.payments[t.ID]
	if !ok || item.Status != t.From {
		return false, nil
	}
	item.Status = t.To
	item.PaidAt = t.PaidAt
	item.ExpiredAt = t.ExpiredAt
	return true, nil
}

func (r *controllerPaymentRepo) TouchCheck(context.Context, uint64, time.Time) error {
	return nil
}

func (r *controllerPaymentRepo) AttachSubscription(context.Context, uint64, uint64, time.Time) error {
	return nil
}

func (r *controllerPaymentRepo) ListPendingForReconcile(context.Context, time.Time, time.Time, int32) ([]*entity.PaymentTransaction, error) {
	return []*entity.PaymentTransaction{}, nil
}

func (r *controllerPaymentRepo) ListExpiredPending(context.Context, time.Time, int32) ([]*entity.PaymentTransaction, error) {
	return []*entity.PaymentTransaction{}, nil
}

func (r *controllerPaymentRepo) ListPaidUnapplied(context.Context, time.Time, int32) ([]*entity.PaymentTransaction, error) {
	return []*entity.PaymentTransaction{}, nil
}

type controllerHistoryRepo struct{}

func (r *controllerHistoryRepo) Create(context.Context, *entity.PaymentStatusHistory) error {
	return nil
}

func (r *controllerHistoryRepo) ListByTransaction(context.Context, uint64, int32) ([]*entity.PaymentStatusHistory, error) {
	return []*entity.PaymentStatusHistory{}, nil
}

type controllerSettlement struct {
	status    entity.PaymentStatus
	checkErr  error
	healthErr error
}

func (p *controllerSettlement) CheckStatus(_ context.Context, md5Hash string) (*provider.StatusResult, error) {
	if p.checkErr != nil {
		return nil, p.checkErr
	}
	status := p.status
	if status == "" {
		status = entity.PaymentStatusPending
	}
	return &provider.StatusResult{MD5Hash: md5Hash, Status: status}, nil
}

func (p *controllerSettlement) BulkCheckStatus(ctx context.Context, md5Hashes []string) ([]*provider.StatusResult, error) {
	results := make([]*provider.StatusResult, 0, len(md5Hashes))
	for _, hash := range md5Hashes {
		res, err := p.CheckStatus(ctx, hash)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *controllerSettlement) GenerateDeepLink(context.Context, string, provider.DeepLinkSource) (*string, error) {
	return nil, nil
}

func (p *controllerSettlement) Health(context.Context) error {
	return p.healthErr
}

type controllerFixture struct {
	payments      *PaymentController
	subscriptions *SubscriptionController
	paymentSvc    *service.PaymentService
	settlement    *controllerSettlement
	subRepo       *controllerSubscriptionRepo
	monitors      *service.MonitorManager
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	images, err := storage.NewLocalStorage(config.StorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	settlement := &controllerSettlement{}
	paymentRepo := newControllerPaymentRepo()
	subRepo := newControllerSubscriptionRepo()
	plans := config.PlansConfig{Currency: "USD"}
	paymentsCfg := config.PaymentsConfig{MonitorInterval: 10 * time.Millisecond, MonitorMaxAttempts: 2}

	paymentSvc := service.NewPaymentService(
		paymentRepo,
		&controllerHistoryRepo{},
		subRepo,
		settlement,
		images,
		config.MerchantConfig{AccountID: "dt_store@aclb", Name: "DT Store", City: "Phnom Penh"},
		plans,
		paymentsCfg,
	)
	subSvc := service.NewSubscriptionService(subRepo, &controllerSubscriptionHistoryRepo{}, paymentRepo, paymentSvc, plans, paymentsCfg)
	paymentSvc.SetPaidHandler(subSvc)
	monitors := service.NewMonitorManager(paymentSvc)
	t.Cleanup(func() { _ = monitors.Shutdown(context.Background()) })

	return &controllerFixture{
		payments:      NewPaymentController(paymentSvc, monitors),
		subscriptions: NewSubscriptionController(subSvc),
		paymentSvc:    paymentSvc,
		settlement:    settlement,
		subRepo:       subRepo,
		monitors:      monitors,
	}
}

func (f *controllerFixture) createPayment(t *testing.T, userID string) *entity.PaymentTransaction {
	t.Helper()
	payment, err := f.paymentSvc.Initiate(context.Background(), service.InitiateInput{UserID: userID, PlanType: entity.PlanPremium})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return payment
}

func newJSONContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestCreatePaymentBadBody(t *testing.T) {
	f := newControllerFixture(t)
	ctx, rec := newJSONContext(http.MethodPost, "/api/payments/create", "{bad")

	if err := f.payments.CreatePayment(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreatePaymentSuccess(t *testing.T) {
	f := newControllerFixture(t)
	ctx, rec := newJSONContext(http.MethodPost, "/api/payments/create", `{"user_id":"user-1","plan_type":"premium"}`)

	_ = f.payments.CreatePayment(ctx)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.PaymentEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Payment == nil || payload.Payment.Status != "PENDING" || len(payload.Payment.Md5Hash) != 32 {
		t.Fatalf("unexpected payment payload: %+v", payload.Payment)
	}
	if payload.Payment.Amount != "0.50" || payload.Payment.QrCode == "" {
		t.Fatalf("unexpected payment payload: %+v", payload.Payment)
	}
}

func TestCreatePaymentInvalidPlan(t *testing.T) {
	f := newControllerFixture(t)
	ctx, rec := newJSONContext(http.MethodPost, "/api/payments/create", `{"user_id":"user-1","plan_type":"GOLD"}`)

	_ = f.payments.CreatePayment(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetPaymentStatus(t *testing.T) {
	f := newControllerFixture(t)
	payment := f.createPayment(t, "user-1")
	f.settlement.status = entity.PaymentStatusPaid

	ctx, rec := newJSONContext(http.MethodGet, "/api/payments/status/"+payment.MD5Hash, "")
	ctx.SetParamNames("md5")
	ctx.SetParamValues(payment.MD5Hash)

	_ = f.payments.GetPaymentStatus(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var payload types.PaymentEnvelopeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Payment.Status != "PAID" || payload.Warning != "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestGetPaymentStatusReturnsLastKnownWhenUpstreamDown(t *testing.T) {
	f := newControllerFixture(t)
	payment := f.createPayment(t, "user-1")
	f.settlement.checkErr = fmt.Errorf("%w: dial tcp", apierr.ErrUpstreamUnavailable)

	ctx, rec := newJSONContext(http.MethodGet, "/api/payments/status/"+payment.MD5Hash, "")
	ctx.SetParamNames("md5")
	ctx.SetParamValues(payment.MD5Hash)

	_ = f.payments.GetPaymentStatus(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload types.PaymentEnvelopeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Payment.Status != "PENDING" || payload.Warning == "" {
		t.Fatalf("expected last known state with a warning, got %+v", payload)
	}
}

func TestGetPaymentStatusErrors(t *testing.T) {
	f := newControllerFixture(t)

	ctx, rec := newJSONContext(http.MethodGet, "/api/payments/status/xyz", "")
	ctx.SetParamNames("md5")
	ctx.SetParamValues("xyz")
	_ = f.payments.GetPaymentStatus(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	hash := strings.Repeat("c", 32)
	ctx, rec = newJSONContext(http.MethodGet, "/api/payments/status/"+hash, "")
	ctx.SetParamNames("md5")
	ctx.SetParamValues(hash)
	_ = f.payments.GetPaymentStatus(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestBulkCheckTooManyHashes(t *testing.T) {
	f := newControllerFixture(t)
	hashes := make([]string, 51)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("%q", fmt.Sprintf("%032x", i))
	}
	ctx, rec := newJSONContext(http.MethodPost, "/api/payments/bulk-check", `{"md5_hashes":[`+strings.Join(hashes, ",")+`]}`)

	_ = f.payments.BulkCheckPayments(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBulkCheckReportsUnknown(t *testing.T) {
	f := newControllerFixture(t)
	payment := f.createPayment(t, "user-1")
	unknown := strings.Repeat("d", 32)
	ctx, rec := newJSONContext(http.MethodPost, "/api/payments/bulk-check", `{"md5_hashes":["`+payment.MD5Hash+`","`+unknown+`"]}`)

	_ = f.payments.BulkCheckPayments(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var payload types.BulkCheckPaymentsResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if len(payload.Payments) != 1 || len(payload.Unknown) != 1 || payload.Unknown[0] != unknown {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestMonitorPaymentAsync(t *testing.T) {
	f := newControllerFixture(t)
	payment := f.createPayment(t, "user-1")
	body := fmt.Sprintf(`{"transaction_id":%d,"async":true,"timeout_seconds":5}`, payment.ID)
	ctx, rec := newJSONContext(http.MethodPost, "/api/payments/monitor", body)

	_ = f.payments.MonitorPayment(ctx)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestMonitorPaymentSyncTimesOut(t *testing.T) {
	f := newControllerFixture(t)
	payment := f.createPayment(t, "user-1")
	ctx, rec := newJSONContext(http.MethodPost, "/api/payments/monitor", `{"md5_hash":"`+payment.MD5Hash+`","max_attempts":1}`)

	_ = f.payments.MonitorPayment(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var payload types.PaymentEnvelopeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Payment.Status != "TIMEOUT" {
		t.Fatalf("expected TIMEOUT, got %s", payload.Payment.Status)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	f := newControllerFixture(t)
	ctx, rec := newJSONContext(http.MethodGet, "/api/payments/9", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("9")

	_ = f.payments.GetPayment(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetPaymentQRImage(t *testing.T) {
	f := newControllerFixture(t)
	payment := f.createPayment(t, "user-1")
	id := fmt.Sprintf("%d", payment.ID)

	ctx, rec := newJSONContext(http.MethodGet, "/api/payments/"+id+"/qr", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues(id)
	_ = f.payments.GetPaymentQRImage(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "image/png" {
		t.Fatalf("expected image/png, got %q", got)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("expected png body")
	}

	ctx, rec = newJSONContext(http.MethodGet, "/api/payments/404/qr", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("404")
	_ = f.payments.GetPaymentQRImage(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelPaymentTwiceConflicts(t *testing.T) {
	f := newControllerFixture(t)
	payment := f.createPayment(t, "user-1")
	id := fmt.Sprintf("%d", payment.ID)

	ctx, rec := newJSONContext(http.MethodPost, "/api/payments/"+id+"/cancel", `{"reason":"duplicate"}`)
	ctx.SetParamNames("id")
	ctx.SetParamValues(id)
	_ = f.payments.CancelPayment(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	ctx, rec = newJSONContext(http.MethodPost, "/api/payments/"+id+"/cancel", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues(id)
	_ = f.payments.CancelPayment(ctx)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHealthDegraded(t *testing.T) {
	f := newControllerFixture(t)
	f.settlement.healthErr = errors.New("down")
	ctx, rec := newJSONContext(http.MethodGet, "/health", "")

	_ = f.payments.Health(ctx)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestWriteServiceErrorMapping(t *testing.T) {
	f := newControllerFixture(t)
	cases := []struct {
		err  error
		code int
	}{
		{err: service.ErrInvalidHash, code: http.StatusBadRequest},
		{err: service.ErrSubscriptionNotFound, code: http.StatusNotFound},
		{err: service.ErrAlreadyOnPlan, code: http.StatusConflict},
		{err: apierr.FromStatus(http.StatusTooManyRequests, "slow down", http.Header{"Retry-After": []string{"7"}}), code: http.StatusTooManyRequests},
		{err: apierr.FromStatus(http.StatusServiceUnavailable, "", nil), code: http.StatusServiceUnavailable},
		{err: apierr.FromStatus(http.StatusUnauthorized, "", nil), code: http.StatusBadGateway},
		{err: errors.New("boom"), code: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		ctx, rec := newJSONContext(http.MethodGet, "/", "")
		_ = writeServiceError(ctx, f.payments.logger, tc.err, "Test")
		if rec.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rec.Code)
		}
		if tc.code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "7" {
			t.Fatalf("expected Retry-After 7, got %q", rec.Header().Get("Retry-After"))
		}
	}
}
