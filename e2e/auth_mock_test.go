//go:build e2e
// +build e2e

package e2e

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"

	authpb "github.com/vibast-solutions/ms-go-auth/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	defaultGRPCCallerAPIKey   = "bakong-grpc-caller-key"
	defaultGRPCNoAccessAPIKey = "bakong-grpc-no-access-key"
	defaultBakongAppAPIKey    = "bakong-app-api-key"
	bakongAuthMockAddr        = "0.0.0.0:38085"
)

func grpcCallerAPIKey() string {
	if value := strings.TrimSpace(os.Getenv("BAKONG_GRPC_CALLER_API_KEY")); value != "" {
		return value
	}
	return defaultGRPCCallerAPIKey
}

func grpcNoAccessAPIKey() string {
	if value := strings.TrimSpace(os.Getenv("BAKONG_GRPC_NO_ACCESS_API_KEY")); value != "" {
		return value
	}
	return defaultGRPCNoAccessAPIKey
}

func bakongAppAPIKey() string {
	if value := strings.TrimSpace(os.Getenv("BAKONG_APP_API_KEY")); value != "" {
		return value
	}
	return defaultBakongAppAPIKey
}

type bakongAuthGRPCServer struct {
	authpb.UnimplementedAuthServiceServer
}

func (s *bakongAuthGRPCServer) ValidateInternalAccess(ctx context.Context, req *authpb.ValidateInternalAccessRequest) (*authpb.ValidateInternalAccessResponse, error) {
	if incomingAppAPIKey(ctx) != bakongAppAPIKey() {
		return nil, status.Error(codes.Unauthenticated, "unauthorized caller")
	}

	apiKey := strings.TrimSpace(req.GetApiKey())
	switch apiKey {
	case grpcCallerAPIKey():
		return &authpb.ValidateInternalAccessResponse{
			ServiceName:   "clinic-backend",
			AllowedAccess: []string{"bakong-payments-service", "notifications-service"},
		}, nil
	case grpcNoAccessAPIKey():
		return &authpb.ValidateInternalAccessResponse{
			ServiceName:   "clinic-backend",
			AllowedAccess: []string{"notifications-service"},
		}, nil
	default:
		return nil, status.Error(codes.Unauthenticated, "invalid api key")
	}
}

func incomingAppAPIKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("x-api-key")
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func TestMain(m *testing.M) {
	if os.Getenv("BAKONG_GRPC_CALLER_API_KEY") == "" {
		_ = os.Setenv("BAKONG_GRPC_CALLER_API_KEY", defaultGRPCCallerAPIKey)
	}
	if os.Getenv("BAKONG_GRPC_NO_ACCESS_API_KEY") == "" {
		_ = os.Setenv("BAKONG_GRPC_NO_ACCESS_API_KEY", defaultGRPCNoAccessAPIKey)
	}
	if os.Getenv("BAKONG_APP_API_KEY") == "" {
		_ = os.Setenv("BAKONG_APP_API_KEY", defaultBakongAppAPIKey)
	}

	listener, err := net.Listen("tcp", bakongAuthMockAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start auth grpc mock: %v\n", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	authpb.RegisterAuthServiceServer(grpcServer, &bakongAuthGRPCServer{})

	go func() {
		_ = grpcServer.Serve(listener)
	}()

	exitCode := m.Run()

	grpcServer.GracefulStop()
	_ = listener.Close()

	os.Exit(exitCode)
}
