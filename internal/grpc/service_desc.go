package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name used for routing and health checks.
const ServiceName = "kpi.v1.Dashboard"

const (
	methodGetSummary = "GetSummary"
	methodGetStatus  = "GetStatus"
	methodRefresh    = "Refresh"
)

// DashboardServer serves the published summary. Responses are JSON-shaped structs using the same
// field names as the HTTP API.
type DashboardServer interface {
	GetSummary(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	GetStatus(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	Refresh(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

// DashboardServiceDesc describes the Dashboard service over well-known message types.
var DashboardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DashboardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetSummary, Handler: unaryHandler(methodGetSummary, DashboardServer.GetSummary)},
		{MethodName: methodGetStatus, Handler: unaryHandler(methodGetStatus, DashboardServer.GetStatus)},
		{MethodName: methodRefresh, Handler: unaryHandler(methodRefresh, DashboardServer.Refresh)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kpi/v1/dashboard.proto",
}

// RegisterDashboardServer registers srv on s.
func RegisterDashboardServer(s grpc.ServiceRegistrar, srv DashboardServer) {
	s.RegisterService(&DashboardServiceDesc, srv)
}

type call func(DashboardServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func unaryHandler(method string, fn call) grpc.MethodHandler {
	fullMethod := fullMethodName(method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(DashboardServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(DashboardServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fullMethodName(method string) string {
	return "/" + ServiceName + "/" + method
}

// DashboardClient is the client side of DashboardServer.
type DashboardClient interface {
	GetSummary(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Refresh(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type dashboardClient struct {
	cc grpc.ClientConnInterface
}

func NewDashboardClient(cc grpc.ClientConnInterface) DashboardClient {
	return &dashboardClient{cc: cc}
}

func (c *dashboardClient) GetSummary(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetSummary, in, opts...)
}

func (c *dashboardClient) GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetStatus, in, opts...)
}

func (c *dashboardClient) Refresh(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodRefresh, in, opts...)
}

func (c *dashboardClient) invoke(ctx context.Context, method string, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethodName(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
