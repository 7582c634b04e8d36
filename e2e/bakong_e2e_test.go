//go:build e2e
// +build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-bakong/app/apierr"
	"github.com/vibast-solutions/ms-go-bakong/app/gateway"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultBakongHTTPBase    = "http://localhost:48081"
	defaultBakongGRPCAddr    = "localhost:49091"
	defaultGatewayAPIKey     = "bakong-gateway-key"
	defaultGatewaySigningKey = "bakong-gateway-secret"
	unknownHash              = "ffffffffffffffffffffffffffffffff"
	getPaymentStatusMethod   = "/bakong.v1.PaymentStatusService/GetPaymentStatus"
	bulkCheckPaymentsMethod  = "/bakong.v1.PaymentStatusService/BulkCheckPayments"
)

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/health", nil)
		req.Header.Set("X-Request-ID", fmt.Sprintf("wait-http-%d", time.Now().UnixNano()))
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusServiceUnavailable {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

func waitForGRPC(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("grpc service not ready at %s", addr)
}

func withGRPCHeaders(apiKey string) grpc.DialOption {
	return grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", fmt.Sprintf("e2e-grpc-%d", time.Now().UnixNano()))
		if apiKey != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", apiKey)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	})
}

func dialGRPC(t *testing.T, addr string, opts ...grpc.DialOption) *grpc.ClientConn {
	t.Helper()
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		t.Fatalf("grpc dial failed: %v", err)
	}
	return conn
}

func grpcContextWithHeaders(apiKey, requestID string) context.Context {
	ctx := context.Background()
	if requestID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", requestID)
	}
	if apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", apiKey)
	}
	return ctx
}

func hashRequest(t *testing.T, md5Hash string) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]any{"md5_hash": md5Hash})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return req
}

func rawGet(t *testing.T, url string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestBakongE2E(t *testing.T) {
	httpBase := envOrDefault("BAKONG_HTTP_URL", defaultBakongHTTPBase)
	grpcAddr := envOrDefault("BAKONG_GRPC_ADDR", defaultBakongGRPCAddr)

	if err := waitForHTTP(httpBase, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}
	if err := waitForGRPC(grpcAddr, 30*time.Second); err != nil {
		t.Fatalf("grpc not ready: %v", err)
	}

	client := gateway.NewClient(gateway.Config{
		BaseURL:       httpBase,
		APIKey:        envOrDefault("GATEWAY_API_KEY", defaultGatewayAPIKey),
		SigningSecret: envOrDefault("GATEWAY_SIGNING_SECRET", defaultGatewaySigningKey),
		Timeout:       10 * time.Second,
	})
	wrongKey := gateway.NewClient(gateway.Config{BaseURL: httpBase, APIKey: "wrong-key", Timeout: 10 * time.Second})
	ctx := context.Background()

	conn := dialGRPC(t, grpcAddr, withGRPCHeaders(grpcCallerAPIKey()))
	defer conn.Close()
	rawConn := dialGRPC(t, grpcAddr)
	defer rawConn.Close()

	t.Run("HTTPMissingRequestID", func(t *testing.T) {
		resp, _ := rawGet(t, httpBase+"/health", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for missing x-request-id, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPHealth", func(t *testing.T) {
		out, err := client.Health(ctx)
		if err != nil && !errors.Is(err, apierr.ErrUpstreamUnavailable) {
			t.Fatalf("health failed: %v", err)
		}
		if err == nil && out.Status != "ok" {
			t.Fatalf("unexpected health status %q", out.Status)
		}
	})

	t.Run("HTTPUnauthorizedMissingAPIKey", func(t *testing.T) {
		resp, body := rawGet(t, httpBase+"/api/payments/status/"+unknownHash, map[string]string{"X-Request-ID": "e2e-no-key"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPUnauthorizedWrongAPIKey", func(t *testing.T) {
		_, err := wrongKey.GetPaymentStatus(ctx, unknownHash)
		if code := apierr.StatusCode(err); code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d (%v)", code, err)
		}
	})

	t.Run("HTTPValidationCreate", func(t *testing.T) {
		_, err := client.CreatePayment(ctx, &types.CreatePaymentRequest{})
		if !errors.Is(err, apierr.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("HTTPValidationInvalidHash", func(t *testing.T) {
		_, err := client.GetPaymentStatus(ctx, "not-a-hash")
		if !errors.Is(err, apierr.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("HTTPStatusUnknownHash", func(t *testing.T) {
		_, err := client.GetPaymentStatus(ctx, unknownHash)
		if !errors.Is(err, apierr.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("HTTPBulkCheckUnknown", func(t *testing.T) {
		_, err := client.BulkCheckPayments(ctx, []string{unknownHash})
		if err != nil && !errors.Is(err, apierr.ErrUpstreamUnavailable) {
			t.Fatalf("unexpected bulk check error: %v", err)
		}
	})

	t.Run("HTTPMonitorNotFound", func(t *testing.T) {
		_, err := client.MonitorPayment(ctx, &types.MonitorPaymentRequest{TransactionId: 999999, Async: true})
		if !errors.Is(err, apierr.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("HTTPSubscriptionNotFound", func(t *testing.T) {
		_, err := client.GetSubscription(ctx, fmt.Sprintf("e2e-user-%d", time.Now().UnixNano()))
		if !errors.Is(err, apierr.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("HTTPCancelSubscriptionNotFound", func(t *testing.T) {
		_, err := client.CancelSubscription(ctx, &types.CancelSubscriptionRequest{UserId: fmt.Sprintf("e2e-user-%d", time.Now().UnixNano())})
		if !errors.Is(err, apierr.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("GRPCMissingRequestID", func(t *testing.T) {
		out := &structpb.Struct{}
		err := rawConn.Invoke(context.Background(), getPaymentStatusMethod, hashRequest(t, unknownHash), out)
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument for missing x-request-id, got %v", err)
		}
	})

	t.Run("GRPCUnauthorizedMissingAPIKey", func(t *testing.T) {
		ctx := grpcContextWithHeaders("", fmt.Sprintf("e2e-grpc-no-auth-%d", time.Now().UnixNano()))
		err := rawConn.Invoke(ctx, getPaymentStatusMethod, hashRequest(t, unknownHash), &structpb.Struct{})
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("GRPCForbiddenInsufficientAccess", func(t *testing.T) {
		ctx := grpcContextWithHeaders(grpcNoAccessAPIKey(), fmt.Sprintf("e2e-grpc-forbidden-%d", time.Now().UnixNano()))
		err := rawConn.Invoke(ctx, getPaymentStatusMethod, hashRequest(t, unknownHash), &structpb.Struct{})
		if status.Code(err) != codes.PermissionDenied {
			t.Fatalf("expected PermissionDenied, got %v", err)
		}
	})

	t.Run("GRPCInvalidHash", func(t *testing.T) {
		err := conn.Invoke(context.Background(), getPaymentStatusMethod, hashRequest(t, "nope"), &structpb.Struct{})
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("GRPCUnknownHash", func(t *testing.T) {
		err := conn.Invoke(context.Background(), getPaymentStatusMethod, hashRequest(t, unknownHash), &structpb.Struct{})
		if status.Code(err) != codes.NotFound {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("GRPCBulkCheckValidation", func(t *testing.T) {
		err := conn.Invoke(context.Background(), bulkCheckPaymentsMethod, &structpb.Struct{}, &structpb.Struct{})
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("GRPCHealth", func(t *testing.T) {
		res, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err != nil {
			t.Fatalf("grpc health failed: %v", err)
		}
		if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("expected SERVING, got %s", res.GetStatus())
		}
	})
}
