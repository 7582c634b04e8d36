package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-bakong/app/controller"
	bakonggrpc "github.com/vibast-solutions/ms-go-bakong/app/grpc"
	"github.com/vibast-solutions/ms-go-bakong/app/middleware"
	"github.com/vibast-solutions/ms-go-bakong/app/provider"
	"github.com/vibast-solutions/ms-go-bakong/app/repository"
	"github.com/vibast-solutions/ms-go-bakong/app/retry"
	"github.com/vibast-solutions/ms-go-bakong/app/service"
	"github.com/vibast-solutions/ms-go-bakong/app/signing"
	"github.com/vibast-solutions/ms-go-bakong/app/storage"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
	"github.com/vibast-solutions/ms-go-bakong/config"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the Bakong payments service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type application struct {
	cfg           *config.Config
	payments      *service.PaymentService
	subscriptions *service.SubscriptionService
}

func runServe(_ *cobra.Command, _ []string) {
	app, cleanup := mustCreateApplication()
	defer cleanup()
	cfg := app.cfg

	monitors := service.NewMonitorManager(app.payments)
	paymentController := controller.NewPaymentController(app.payments, monitors)
	subscriptionController := controller.NewSubscriptionController(app.subscriptions)
	grpcPaymentServer := bakonggrpc.NewServer(app.payments)

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

	redisClient := newRedisClient(cfg.Redis)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close redis client")
			}
		}()
	}

	e := setupHTTPServer(cfg, paymentController, subscriptionController, rateLimitCounter(redisClient))
	grpcSrv, lis := setupGRPCServer(cfg, grpcPaymentServer, grpcInternalAuthMiddleware, cfg.App.ServiceName)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()
	if err := monitors.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Payment monitors did not stop in time")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	cfg *config.Config,
	paymentController *controller.PaymentController,
	subscriptionController *controller.SubscriptionController,
	counter middleware.Counter,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.BodyLimit("1M"))
	e.Use(echomiddleware.CORS())
	e.Use(requireRequestID())

	e.GET("/health", paymentController.Health)
	if cfg.Storage.Type == "" || cfg.Storage.Type == "local" {
		e.Static("/qr-codes", filepath.Join(cfg.Storage.BasePath, "qr-codes"))
	}

	api := e.Group("/api",
		middleware.RateLimit(middleware.RateLimitConfig{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
		}, counter),
		middleware.RequireAPIKey(middleware.APIKeyConfig{
			Verifier: signing.Verifier{
				Secret:    cfg.Gateway.SigningSecret,
				Tolerance: cfg.Gateway.SignatureTolerance,
			},
			APIKey:       cfg.Gateway.APIKey,
			MaxBodyBytes: middleware.DefaultMaxBodyBytes,
		}),
	)

	payments := api.Group("/payments")
	payments.POST("/create", paymentController.CreatePayment)
	payments.GET("/status/:md5", paymentController.GetPaymentStatus)
	payments.POST("/monitor", paymentController.MonitorPayment)
	payments.POST("/bulk-check", paymentController.BulkCheckPayments)
	payments.GET("/:id", paymentController.GetPayment)
	payments.GET("/:id/history", paymentController.GetPaymentHistory)
	payments.GET("/:id/qr", paymentController.GetPaymentQRImage)
	payments.POST("/:id/cancel", paymentController.CancelPayment)

	subscriptions := api.Group("/subscriptions")
	subscriptions.GET("/status/:userId", subscriptionController.GetStatus)
	subscriptions.POST("/upgrade", subscriptionController.Upgrade)
	subscriptions.POST("/downgrade", subscriptionController.Downgrade)
	subscriptions.POST("/cancel", subscriptionController.Cancel)
	subscriptions.POST("/renew", subscriptionController.Renew)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func setupGRPCServer(
	cfg *config.Config,
	paymentServer *bakonggrpc.Server,
	internalAuthMiddleware *authmiddleware.GRPCInternalAuthMiddleware,
	appServiceName string,
) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			bakonggrpc.RecoveryInterceptor(),
			bakonggrpc.RequestIDInterceptor(),
			bakonggrpc.LoggingInterceptor(),
			internalAuthMiddleware.UnaryRequireInternalAccess(appServiceName),
		),
	)
	bakonggrpc.RegisterPaymentStatusServer(grpcSrv, paymentServer)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(bakonggrpc.PaymentStatusServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	return grpcSrv, lis
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).WithField("addr", cfg.Addr).Warn("Redis unavailable, rate limiting in memory")
		_ = client.Close()
		return nil
	}
	return client
}

func rateLimitCounter(client *redis.Client) middleware.Counter {
	if client == nil {
		return nil
	}
	return middleware.NewRedisCounter(client)
}

func mustCreateApplication() (*application, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	images, err := storage.New(cfg.Storage)
	if err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to initialize QR image storage")
	}

	paymentRepo := repository.NewPaymentRepository(db)
	paymentHistoryRepo := repository.NewPaymentHistoryRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	subscriptionHistoryRepo := repository.NewSubscriptionHistoryRepository(db)

	settlement := provider.NewBakongClient(provider.BakongConfig{
		BaseURL:        cfg.Bakong.APIURL,
		DeveloperToken: cfg.Bakong.DeveloperToken,
		HTTPTimeout:    cfg.Bakong.HTTPTimeout,
		Retry: retry.Policy{
			MaxRetries:   cfg.Bakong.MaxRetries,
			InitialDelay: cfg.Bakong.RetryDelay,
			MaxDelay:     cfg.Bakong.MaxRetryDelay,
		},
	})

	paymentService := service.NewPaymentService(
		paymentRepo,
		paymentHistoryRepo,
		subscriptionRepo,
		settlement,
		images,
		cfg.Merchant,
		cfg.Plans,
		cfg.Payments,
	)
	subscriptionService := service.NewSubscriptionService(
		subscriptionRepo,
		subscriptionHistoryRepo,
		paymentRepo,
		paymentService,
		cfg.Plans,
		cfg.Payments,
	)
	paymentService.SetPaidHandler(subscriptionService)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return &application{
		cfg:           cfg,
		payments:      paymentService,
		subscriptions: subscriptionService,
	}, cleanup
}
