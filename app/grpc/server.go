package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/vibast-solutions/ms-go-bakong/app/apierr"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/mapper"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const PaymentStatusServiceName = "bakong.v1.PaymentStatusService"

// PaymentStatusServer exposes payment status lookups to internal services. Messages are
// structpb.Struct values shaped like the HTTP JSON bodies.
type PaymentStatusServer interface {
	GetPaymentStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	BulkCheckPayments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var PaymentStatusServiceDesc = grpc.ServiceDesc{
	ServiceName: PaymentStatusServiceName,
	HandlerType: (*PaymentStatusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPaymentStatus", Handler: getPaymentStatusHandler},
		{MethodName: "BulkCheckPayments", Handler: bulkCheckPaymentsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bakong/v1/payment_status.proto",
}

func RegisterPaymentStatusServer(s grpc.ServiceRegistrar, srv PaymentStatusServer) {
	s.RegisterService(&PaymentStatusServiceDesc, srv)
}

func getPaymentStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentStatusServer).GetPaymentStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + PaymentStatusServiceName + "/GetPaymentStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PaymentStatusServer).GetPaymentStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func bulkCheckPaymentsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentStatusServer).BulkCheckPayments(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + PaymentStatusServiceName + "/BulkCheckPayments"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PaymentStatusServer).BulkCheckPayments(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type paymentStatusService interface {
	CheckStatus(ctx context.Context, md5Hash string) (*entity.PaymentTransaction, error)
	BulkCheck(ctx context.Context, md5Hashes []string) ([]*entity.PaymentTransaction, []string, error)
}

type Server struct {
	paymentService paymentStatusService
}

func NewServer(paymentService paymentStatusService) *Server {
	return &Server{paymentService: paymentService}
}

func (s *Server) GetPaymentStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	l := loggerWithContext(ctx)
	md5Hash := strings.ToLower(strings.TrimSpace(req.GetFields()["md5_hash"].GetStringValue()))
	if !types.ValidMD5(md5Hash) {
		return nil, status.Error(codes.InvalidArgument, "md5 hash must be 32 hex characters")
	}

	item, err := s.paymentService.CheckStatus(ctx, md5Hash)
	if err != nil {
		if item == nil || !apierr.Degraded(err) {
			return nil, toStatusError(ctx, err)
		}
		l.WithError(err).Warn("Returning last known payment status")
		return toStruct(&types.PaymentEnvelopeResponse{
			Payment: mapper.PaymentToType(item),
			Warning: "status could not be refreshed from the settlement network",
		})
	}

	return toStruct(&types.PaymentEnvelopeResponse{Payment: mapper.PaymentToType(item)})
}

func (s *Server) BulkCheckPayments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	values := req.GetFields()["md5_hashes"].GetListValue().GetValues()
	bulk := &types.BulkCheckPaymentsRequest{Md5Hashes: make([]string, 0, len(values))}
	for _, v := range values {
		bulk.Md5Hashes = append(bulk.Md5Hashes, strings.ToLower(strings.TrimSpace(v.GetStringValue())))
	}
	if err := bulk.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	items, unknown, err := s.paymentService.BulkCheck(ctx, bulk.GetMd5Hashes())
	if err != nil {
		return nil, toStatusError(ctx, err)
	}

	return toStruct(&types.BulkCheckPaymentsResponse{Payments: mapper.PaymentsToType(items), Unknown: unknown})
}

func toStatusError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, apierr.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, apierr.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, apierr.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, apierr.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "settlement network rate limit reached")
	case errors.Is(err, apierr.ErrUpstreamUnavailable):
		return status.Error(codes.Unavailable, "settlement network unavailable")
	default:
		loggerWithContext(ctx).WithError(err).Error("Payment status call failed")
		return status.Error(codes.Internal, "internal server error")
	}
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}
