package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"github.com/devrev/pairdb/storage-rent/internal/errors"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/service"
	"github.com/devrev/pairdb/storage-rent/internal/storage/diskmanager"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "pairdb.rent.v1.StorageRent"

// Metadata keys carrying the call context
const (
	CallerIDMetadata        = "x-caller-id"
	AttachedDepositMetadata = "x-attached-deposit"
	RequestIDMetadata       = "x-request-id"
)

// RentServer is the server API of the storage rent service. Requests and
// responses are JSON-shaped structs with amounts as decimal strings.
type RentServer interface {
	Deposit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Withdraw(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unregister(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BalanceBounds(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BalanceOf(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AccountInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetContractState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetRunningState(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type methodHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

func unaryHandler(method string, call func(RentServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) methodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RentServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(RentServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RentServiceDesc describes the storage rent gRPC service
var RentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deposit", Handler: unaryHandler("Deposit", RentServer.Deposit)},
		{MethodName: "Withdraw", Handler: unaryHandler("Withdraw", RentServer.Withdraw)},
		{MethodName: "Unregister", Handler: unaryHandler("Unregister", RentServer.Unregister)},
		{MethodName: "BalanceBounds", Handler: unaryHandler("BalanceBounds", RentServer.BalanceBounds)},
		{MethodName: "BalanceOf", Handler: unaryHandler("BalanceOf", RentServer.BalanceOf)},
		{MethodName: "AccountInfo", Handler: unaryHandler("AccountInfo", RentServer.AccountInfo)},
		{MethodName: "GetContractState", Handler: unaryHandler("GetContractState", RentServer.GetContractState)},
		{MethodName: "SetRunningState", Handler: unaryHandler("SetRunningState", RentServer.SetRunningState)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rent.proto",
}

// GRPCHandler implements the gRPC rent service
type GRPCHandler struct {
	rentService *service.RentService
	guard       WriteGuard
	logger      *zap.Logger
}

// NewGRPCHandler creates a new gRPC handler. guard may be nil.
func NewGRPCHandler(rentService *service.RentService, guard WriteGuard, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{
		rentService: rentService,
		guard:       guard,
		logger:      logger,
	}
}

// Register registers the rent service on s
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&RentServiceDesc, h)
}

// Deposit handles deposit requests
func (h *GRPCHandler) Deposit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req model.DepositRequest
	cc, err := h.prepareMutation(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	balance, err := h.rentService.Deposit(ctx, cc, req.AccountID, req.RegistrationOnly)
	return h.respond(balance, err)
}

// Withdraw handles withdraw requests
func (h *GRPCHandler) Withdraw(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req model.WithdrawRequest
	cc, err := h.prepareMutation(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	balance, err := h.rentService.Withdraw(ctx, cc, req.Amount)
	return h.respond(balance, err)
}

// Unregister handles unregister requests
func (h *GRPCHandler) Unregister(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req model.UnregisterRequest
	cc, err := h.prepareMutation(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	removed, err := h.rentService.Unregister(ctx, cc, req.Force)
	return h.respond(&UnregisterResponse{Unregistered: removed}, err)
}

// SetRunningState handles running state changes
func (h *GRPCHandler) SetRunningState(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SetStateRequest
	cc, err := h.prepareMutation(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	st, err := h.rentService.SetRunningState(ctx, cc, req.RunningState)
	return h.respond(st, err)
}

// BalanceBounds handles balance bounds queries
func (h *GRPCHandler) BalanceBounds(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	bounds := h.rentService.BalanceBounds(ctx)
	return h.respond(&bounds, nil)
}

// BalanceOf handles balance queries. An unregistered account yields an
// empty struct.
func (h *GRPCHandler) BalanceOf(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req model.BalanceOfRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	balance, err := h.rentService.BalanceOf(ctx, req.AccountID)
	if err == nil && balance == nil {
		return &structpb.Struct{}, nil
	}
	return h.respond(balance, err)
}

// AccountInfo handles account record queries
func (h *GRPCHandler) AccountInfo(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req model.BalanceOfRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	info, err := h.rentService.AccountInfo(ctx, req.AccountID)
	if err == nil && info == nil {
		err = errors.AccountNotFound(req.AccountID)
	}
	return h.respond(info, err)
}

// GetContractState handles contract state queries
func (h *GRPCHandler) GetContractState(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	st, err := h.rentService.ContractState(ctx)
	return h.respond(st, err)
}

// prepareMutation decodes the request, reads the call context from metadata,
// and checks the disk guard
func (h *GRPCHandler) prepareMutation(ctx context.Context, in *structpb.Struct, req interface{}) (model.CallContext, error) {
	if err := fromStruct(in, req); err != nil {
		return model.CallContext{}, err
	}

	cc, err := callContextFromMetadata(ctx)
	if err != nil {
		return cc, err
	}

	if h.guard != nil {
		if err := h.guard.CheckBeforeWrite(writeEstimate); err != nil {
			return cc, toStatusError(err)
		}
	}
	return cc, nil
}

func (h *GRPCHandler) respond(result interface{}, err error) (*structpb.Struct, error) {
	if err != nil {
		if errors.GetKind(err) == errors.KindInternal && !diskmanager.IsDiskSpaceError(err) {
			h.logger.Error("gRPC call failed", zap.Error(err))
		}
		return nil, toStatusError(err)
	}
	return toStruct(result)
}

// callContextFromMetadata builds the call context from incoming metadata
func callContextFromMetadata(ctx context.Context) (model.CallContext, error) {
	cc := model.CallContext{Attached: amount.Zero()}
	md, _ := metadata.FromIncomingContext(ctx)

	cc.Caller = firstValue(md, CallerIDMetadata)
	if cc.Caller == "" {
		return cc, status.Errorf(codes.InvalidArgument, "%s metadata is required", CallerIDMetadata)
	}

	if raw := firstValue(md, AttachedDepositMetadata); raw != "" {
		attached, err := amount.Parse(raw)
		if err != nil {
			return cc, status.Errorf(codes.InvalidArgument, "invalid %s: %v", AttachedDepositMetadata, err)
		}
		cc.Attached = attached
	}

	cc.RequestID = firstValue(md, RequestIDMetadata)
	if cc.RequestID == "" {
		cc.RequestID = uuid.New().String()
	}
	return cc, nil
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// toStatusError converts an error into a gRPC status error
func toStatusError(err error) error {
	if diskmanager.IsDiskSpaceError(err) {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	var re *errors.RentError
	if stderrors.As(err, &re) {
		return re.ToGRPCStatus().Err()
	}
	return status.Error(codes.Internal, "internal error")
}

// fromStruct decodes a struct into a JSON-tagged request
func fromStruct(in *structpb.Struct, v interface{}) error {
	if in == nil || len(in.GetFields()) == 0 {
		return nil
	}
	data, err := in.MarshalJSON()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// toStruct encodes a JSON-tagged response as a struct
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}
