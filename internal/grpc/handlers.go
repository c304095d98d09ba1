package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/godilite/kpi-dashboard/internal/service"
	"github.com/godilite/kpi-dashboard/internal/sheets"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultGRPCTimeout = 30 * time.Second

type GRPCHandlers struct {
	controller DashboardController
	logger     *zap.Logger
	timeout    time.Duration
}

var _ DashboardServer = (*GRPCHandlers)(nil)

// NewGRPCHandlers initializes the gRPC handlers. A non-positive timeout uses the default.
func NewGRPCHandlers(controller DashboardController, logger *zap.Logger, timeout time.Duration) *GRPCHandlers {
	if controller == nil {
		panic("nil DashboardController provided to NewGRPCHandlers")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultGRPCTimeout
	}
	return &GRPCHandlers{
		controller: controller,
		logger:     logger.Named("grpc-handler"),
		timeout:    timeout,
	}
}

func (s *GRPCHandlers) handleError(ctx context.Context, op string, err error) error {
	switch ctx.Err() {
	case context.Canceled:
		s.logger.Warn("request canceled", zap.String("op", op))
		return status.Error(codes.Canceled, "request canceled")
	case context.DeadlineExceeded:
		s.logger.Warn("request timeout", zap.String("op", op))
		return status.Error(codes.DeadlineExceeded, "request timed out")
	}

	switch {
	case errors.Is(err, sheets.ErrConfigMissing):
		s.logger.Error("source not configured", zap.String("op", op))
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, sheets.ErrAPIReported):
		s.logger.Warn("source reported an error", zap.String("op", op), zap.Error(err))
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, service.ErrUnknownPayload):
		s.logger.Error("unexpected source payload", zap.String("op", op), zap.Error(err))
		return status.Error(codes.Internal, err.Error())
	default:
		s.logger.Error("refresh failed", zap.String("op", op), zap.Error(err))
		return status.Errorf(codes.Unavailable, "%s failed: %v", op, err)
	}
}

func (s *GRPCHandlers) GetSummary(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	summary, ok := s.controller.Summary()
	if !ok {
		return nil, status.Error(codes.Unavailable, "no summary has been loaded yet")
	}
	return s.toStruct("GetSummary", summary)
}

func (s *GRPCHandlers) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.toStruct("GetStatus", s.controller.Status())
}

// Refresh runs one refresh and returns the resulting status.
func (s *GRPCHandlers) Refresh(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.controller.Refresh(ctx); err != nil {
		return nil, s.handleError(ctx, "Refresh", err)
	}
	return s.toStruct("Refresh", s.controller.Status())
}

// toStruct converts v through its JSON form so RPC clients see the HTTP field names.
func (s *GRPCHandlers) toStruct(op string, v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", zap.String("op", op), zap.Error(err))
		return nil, status.Error(codes.Internal, "encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		s.logger.Error("convert response", zap.String("op", op), zap.Error(err))
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

// DecodeStruct converts a response struct back into v, the inverse of the server-side conversion.
func DecodeStruct(in *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}
