package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/checkout/internal/core/domain"
	"github.com/rl1809/checkout/internal/core/service"
	"github.com/rl1809/checkout/internal/logger"
)

// JSONCodecName is the content-subtype clients select with
// grpc.CallContentSubtype to talk to CheckoutServer.
const JSONCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

type CheckoutRequest struct {
	UserID         int64          `json:"user_id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Items          []CheckoutItem `json:"items"`
}

type CheckoutItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type GetOrderRequest struct {
	UserID  int64 `json:"user_id"`
	OrderID int64 `json:"order_id"`
}

type OrderReply struct {
	Order    OrderView `json:"order"`
	Replayed bool      `json:"replayed,omitempty"`
}

// CheckoutServer is the server API of checkout.v1.CheckoutService.
type CheckoutServer interface {
	Checkout(ctx context.Context, req *CheckoutRequest) (*OrderReply, error)
	GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error)
}

type GRPCHandler struct {
	checkout CheckoutAPI
	log      *zap.Logger
}

func NewGRPCHandler(checkout CheckoutAPI, log *zap.Logger) *GRPCHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &GRPCHandler{checkout: checkout, log: log}
}

func RegisterCheckoutServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&checkoutServiceDesc, srv)
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*OrderReply, error) {
	ctx = logger.WithFields(ctx, zap.Int64("user_id", req.UserID))

	items := make([]domain.CartLineRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.CartLineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	res, err := h.checkout.Checkout(ctx, service.CheckoutCommand{
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Items:          items,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &OrderReply{Order: newOrderView(res.Order), Replayed: res.Replayed}, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error) {
	if req.UserID <= 0 || req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "user_id and order_id must be positive integers")
	}

	ctx = logger.WithFields(ctx, zap.Int64("user_id", req.UserID))
	order, err := h.checkout.GetOrder(ctx, req.UserID, req.OrderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &OrderReply{Order: newOrderView(order)}, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrStockConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrRequestInProgress):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, gobreaker.ErrOpenState):
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	default:
		h.log.Error("grpc request failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

// UnaryLoggingInterceptor logs each call with its status code and latency.
func UnaryLoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)))
		return resp, err
	}
}

var checkoutServiceDesc = grpc.ServiceDesc{
	ServiceName: "checkout.v1.CheckoutService",
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Checkout", Handler: checkoutMethodHandler},
		{MethodName: "GetOrder", Handler: getOrderMethodHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "checkout/v1/checkout.proto",
}

func checkoutMethodHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckoutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServer).Checkout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/checkout.v1.CheckoutService/Checkout",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckoutServer).Checkout(ctx, req.(*CheckoutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getOrderMethodHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/checkout.v1.CheckoutService/GetOrder",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckoutServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}
