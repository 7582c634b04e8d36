package types

type CreatePaymentRequest struct {
	UserId     string `json:"user_id"`
	PlanType   string `json:"plan_type"`
	Amount     string `json:"amount,omitempty"`
	Currency   string `json:"currency,omitempty"`
	BillNumber string `json:"bill_number,omitempty"`
	IsRenewal  bool   `json:"is_renewal,omitempty"`
	AppName    string `json:"app_name,omitempty"`
	AppIconUrl string `json:"app_icon_url,omitempty"`
	Callback   string `json:"callback,omitempty"`
}

func (r *CreatePaymentRequest) GetUserId() string {
	return r.UserId
}

func (r *CreatePaymentRequest) GetPlanType() string {
	return r.PlanType
}

func (r *CreatePaymentRequest) GetAmount() string {
	return r.Amount
}

func (r *CreatePaymentRequest) GetCurrency() string {
	return r.Currency
}

func (r *CreatePaymentRequest) GetBillNumber() string {
	return r.BillNumber
}

func (r *CreatePaymentRequest) GetIsRenewal() bool {
	return r.IsRenewal
}

func (r *CreatePaymentRequest) GetAppName() string {
	return r.AppName
}

func (r *CreatePaymentRequest) GetAppIconUrl() string {
	return r.AppIconUrl
}

func (r *CreatePaymentRequest) GetCallback() string {
	return r.Callback
}

type GetPaymentStatusRequest struct {
	Md5Hash string `json:"md5_hash"`
}

func (r *GetPaymentStatusRequest) GetMd5Hash() string {
	return r.Md5Hash
}

type MonitorPaymentRequest struct {
	Md5Hash         string `json:"md5_hash,omitempty"`
	TransactionId   uint64 `json:"transaction_id,omitempty"`
	TimeoutSeconds  int32  `json:"timeout_seconds,omitempty"`
	IntervalSeconds int32  `json:"interval_seconds,omitempty"`
	MaxAttempts     int32  `json:"max_attempts,omitempty"`
	Async           bool   `json:"async,omitempty"`
}

func (r *MonitorPaymentRequest) GetMd5Hash() string {
	return r.Md5Hash
}

func (r *MonitorPaymentRequest) GetTransactionId() uint64 {
	return r.TransactionId
}

func (r *MonitorPaymentRequest) GetTimeoutSeconds() int32 {
	return r.TimeoutSeconds
}

func (r *MonitorPaymentRequest) GetIntervalSeconds() int32 {
	return r.IntervalSeconds
}

func (r *MonitorPaymentRequest) GetMaxAttempts() int32 {
	return r.MaxAttempts
}

func (r *MonitorPaymentRequest) GetAsync() bool {
	return r.Async
}

type BulkCheckPaymentsRequest struct {
	Md5Hashes []string `json:"md5_hashes"`
}

func (r *BulkCheckPaymentsRequest) GetMd5Hashes() []string {
	return r.Md5Hashes
}

type GetPaymentRequest struct {
	Id uint64 `json:"id"`
}

func (r *GetPaymentRequest) GetId() uint64 {
	return r.Id
}

type CancelPaymentRequest struct {
	Id     uint64 `json:"id"`
	Reason string `json:"reason,omitempty"`
}

func (r *CancelPaymentRequest) GetId() uint64 {
	return r.Id
}

func (r *CancelPaymentRequest) GetReason() string {
	return r.Reason
}

type GetSubscriptionRequest struct {
	UserId string `json:"user_id"`
}

func (r *GetSubscriptionRequest) GetUserId() string {
	return r.UserId
}

type ChangePlanRequest struct {
	UserId      string `json:"user_id"`
	NewPlanType string `json:"new_plan_type"`
	AppName     string `json:"app_name,omitempty"`
}

func (r *ChangePlanRequest) GetUserId() string {
	return r.UserId
}

func (r *ChangePlanRequest) GetNewPlanType() string {
	return r.NewPlanType
}

func (r *ChangePlanRequest) GetAppName() string {
	return r.AppName
}

type CancelSubscriptionRequest struct {
	UserId string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

func (r *CancelSubscriptionRequest) GetUserId() string {
	return r.UserId
}

func (r *CancelSubscriptionRequest) GetReason() string {
	return r.Reason
}

type RenewSubscriptionRequest struct {
	UserId  string `json:"user_id"`
	AppName string `json:"app_name,omitempty"`
}

func (r *RenewSubscriptionRequest) GetUserId() string {
	return r.UserId
}

func (r *RenewSubscriptionRequest) GetAppName() string {
	return r.AppName
}

type Payment struct {
	Id             uint64            `json:"id"`
	UserId         string            `json:"user_id"`
	BillNumber     string            `json:"bill_number"`
	Md5Hash        string            `json:"md5_hash"`
	QrCode         string            `json:"qr_code"`
	QrImageUrl     string            `json:"qr_image_url"`
	DeepLink       string            `json:"deep_link,omitempty"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	PlanType       string            `json:"plan_type"`
	IsUpgrade      bool              `json:"is_upgrade"`
	IsRenewal      bool              `json:"is_renewal"`
	ProratedAmount string            `json:"prorated_amount,omitempty"`
	SubscriptionId uint64            `json:"subscription_id,omitempty"`
	CheckAttempts  int32             `json:"check_attempts"`
	SettlementData map[string]string `json:"settlement_data,omitempty"`
	LastCheckedAt  string            `json:"last_checked_at,omitempty"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
	PaidAt         string            `json:"paid_at,omitempty"`
	ExpiredAt      string            `json:"expired_at,omitempty"`
}

type StatusHistory struct {
	Id        uint64 `json:"id"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status"`
	Reason    string `json:"reason"`
	Metadata  string `json:"metadata,omitempty"`
	CreatedAt string `json:"created_at"`
}

type Subscription struct {
	Id                 uint64 `json:"id"`
	UserId             string `json:"user_id"`
	PlanType           string `json:"plan_type"`
	Status             string `json:"status"`
	StartDate          string `json:"start_date"`
	LastBillingDate    string `json:"last_billing_date"`
	NextBillingDate    string `json:"next_billing_date"`
	CancelledAt        string `json:"cancelled_at,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
	ScheduledPlanType  string `json:"scheduled_plan_type,omitempty"`
	ScheduledChangeAt  string `json:"scheduled_change_at,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

type PaymentEnvelopeResponse struct {
	Payment *Payment `json:"payment"`
	Warning string   `json:"warning,omitempty"`
}

type BulkCheckPaymentsResponse struct {
	Payments []*Payment `json:"payments"`
	Unknown  []string   `json:"unknown,omitempty"`
}

type PaymentHistoryResponse struct {
	History []*StatusHistory `json:"history"`
}

type SubscriptionStatusResponse struct {
	Subscription   *Subscription    `json:"subscription"`
	RecentPayments []*Payment       `json:"recent_payments"`
	History        []*StatusHistory `json:"history"`
}

type SubscriptionEnvelopeResponse struct {
	Subscription *Subscription `json:"subscription"`
}

type UpgradeSubscriptionResponse struct {
	Subscription    *Subscription `json:"subscription"`
	ProratedAmount  string        `json:"prorated_amount"`
	RequiresPayment bool          `json:"requires_payment"`
	Payment         *Payment      `json:"payment,omitempty"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
