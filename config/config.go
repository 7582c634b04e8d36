package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Redis             RedisConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Bakong            BakongConfig
	Merchant          MerchantConfig
	Gateway           GatewayConfig
	RateLimit         RateLimitConfig
	Storage           StorageConfig
	Plans             PlansConfig
	Payments          PaymentsConfig
	Jobs              JobsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type BakongConfig struct {
	APIURL         string
	DeveloperToken string
	HTTPTimeout    time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration
}

type MerchantConfig struct {
	AccountID     string
	Name          string
	City          string
	Phone         string
	CategoryCode  string
	StoreLabel    string
	TerminalLabel string
	AppName       string
	AppIconURL    string
	AppCallback   string
}

type GatewayConfig struct {
	APIKey             string
	SigningSecret      string
	SignatureTolerance time.Duration
	ServiceURL         string
	Timeout            time.Duration
	BreakerThreshold   int
	BreakerCooldown    time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type StorageConfig struct {
	Type      string
	BasePath  string
	BaseURL   string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

type PlansConfig struct {
	PremiumPrice       decimal.Decimal
	FamilyPremiumPrice decimal.Decimal
	Currency           string
}

type PaymentsConfig struct {
	BillNumberPrefix    string
	PendingTimeout      time.Duration
	ReconcileStaleAfter time.Duration
	JobBatchSize        int32
	MonitorTimeout      time.Duration
	MonitorInterval     time.Duration
	MonitorMaxAttempts  int
	QRImageSize         int
}

type JobsConfig struct {
	ReconcileInterval           time.Duration
	ExpirePendingInterval       time.Duration
	ExpireSubscriptionsInterval time.Duration
	HandOffRetryInterval        time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "bakong-payments-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Bakong: BakongConfig{
			APIURL:         strings.TrimRight(getEnv("BAKONG_API_URL", "https://api-bakong.nbc.gov.kh/v1"), "/"),
			DeveloperToken: getEnv("BAKONG_DEVELOPER_TOKEN", ""),
			HTTPTimeout:    getSecondsEnv("BAKONG_HTTP_TIMEOUT_SECONDS", 15*time.Second),
			MaxRetries:     getIntEnv("BAKONG_MAX_RETRIES", 3),
			RetryDelay:     getMillisecondsEnv("BAKONG_RETRY_DELAY_MS", time.Second),
			MaxRetryDelay:  getMillisecondsEnv("BAKONG_MAX_RETRY_DELAY_MS", 30*time.Second),
		},
		Merchant: MerchantConfig{
			AccountID:     getEnv("BAKONG_MERCHANT_ACCOUNT_ID", ""),
			Name:          getEnv("BAKONG_MERCHANT_NAME", ""),
			City:          getEnv("BAKONG_MERCHANT_CITY", "Phnom Penh"),
			Phone:         getEnv("BAKONG_MERCHANT_PHONE", ""),
			CategoryCode:  getEnv("BAKONG_MERCHANT_CATEGORY_CODE", "5999"),
			StoreLabel:    getEnv("BAKONG_STORE_LABEL", ""),
			TerminalLabel: getEnv("BAKONG_TERMINAL_LABEL", ""),
			AppName:       getEnv("BAKONG_APP_NAME", ""),
			AppIconURL:    getEnv("BAKONG_APP_ICON_URL", ""),
			AppCallback:   getEnv("BAKONG_APP_CALLBACK", ""),
		},
		Gateway: loadGatewayConfig(),
		RateLimit: RateLimitConfig{
			Requests: getIntEnv("RATE_LIMIT_REQUESTS", 100),
			Window:   getSecondsEnv("RATE_LIMIT_WINDOW_SECONDS", time.Minute),
		},
		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "local"),
			BasePath:  getEnv("STORAGE_BASE_PATH", "./uploads"),
			BaseURL:   getEnv("STORAGE_BASE_URL", ""),
			Bucket:    getEnv("STORAGE_BUCKET", ""),
			Region:    getEnv("STORAGE_REGION", ""),
			AccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey: getEnv("STORAGE_SECRET_KEY", ""),
			Endpoint:  getEnv("STORAGE_ENDPOINT", ""),
		},
		Plans: PlansConfig{
			PremiumPrice:       getDecimalEnv("PREMIUM_PRICE", decimal.RequireFromString("0.50")),
			FamilyPremiumPrice: getDecimalEnv("FAMILY_PREMIUM_PRICE", decimal.RequireFromString("1.00")),
			Currency:           strings.ToUpper(getEnv("PLAN_CURRENCY", "USD")),
		},
		Payments: PaymentsConfig{
			BillNumberPrefix:    getEnv("PAYMENTS_BILL_NUMBER_PREFIX", "DT"),
			PendingTimeout:      getMinutesEnv("PAYMENTS_PENDING_TIMEOUT_MINUTES", 15*time.Minute),
			ReconcileStaleAfter: getMinutesEnv("PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", time.Minute),
			JobBatchSize:        int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
			MonitorTimeout:      getSecondsEnv("PAYMENTS_MONITOR_TIMEOUT_SECONDS", 300*time.Second),
			MonitorInterval:     getSecondsEnv("PAYMENTS_MONITOR_INTERVAL_SECONDS", 5*time.Second),
			MonitorMaxAttempts:  getIntEnv("PAYMENTS_MONITOR_MAX_ATTEMPTS", 60),
			QRImageSize:         getIntEnv("PAYMENTS_QR_IMAGE_SIZE", 256),
		},
		Jobs: JobsConfig{
			ReconcileInterval:           getMinutesEnv("PAYMENTS_RECONCILE_INTERVAL_MINUTES", time.Minute),
			ExpirePendingInterval:       getMinutesEnv("PAYMENTS_EXPIRE_PENDING_INTERVAL_MINUTES", 5*time.Minute),
			ExpireSubscriptionsInterval: getMinutesEnv("SUBSCRIPTIONS_EXPIRE_INTERVAL_MINUTES", 60*time.Minute),
			HandOffRetryInterval:        getMinutesEnv("PAYMENTS_HANDOFF_RETRY_INTERVAL_MINUTES", 5*time.Minute),
		},
	}, nil
}

// LoadGateway reads only the settings needed by gateway clients, so callers
// without database access can use it.
func LoadGateway() GatewayConfig {
	_ = godotenv.Load()
	return loadGatewayConfig()
}

func loadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		APIKey:             getEnv("GATEWAY_API_KEY", ""),
		SigningSecret:      getEnv("GATEWAY_SIGNING_SECRET", ""),
		SignatureTolerance: getSecondsEnv("GATEWAY_SIGNATURE_TOLERANCE_SECONDS", 300*time.Second),
		ServiceURL:         strings.TrimRight(getEnv("GATEWAY_SERVICE_URL", "http://localhost:8080"), "/"),
		Timeout:            getSecondsEnv("GATEWAY_TIMEOUT_SECONDS", 15*time.Second),
		BreakerThreshold:   getIntEnv("GATEWAY_BREAKER_THRESHOLD", 5),
		BreakerCooldown:    getSecondsEnv("GATEWAY_BREAKER_COOLDOWN_SECONDS", 60*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}
