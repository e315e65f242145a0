package qtunev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "qtune.v1.QtuneDaemon"

// Full method names.
const (
	ValidateFullMethod      = "/" + ServiceName + "/Validate"
	WatchFullMethod         = "/" + ServiceName + "/Watch"
	StatusFullMethod        = "/" + ServiceName + "/Status"
	ListSnapshotsFullMethod = "/" + ServiceName + "/ListSnapshots"
	ShutdownFullMethod      = "/" + ServiceName + "/Shutdown"
)

// QtuneDaemonServer is implemented by qtuned.
//
//   - Validate takes a document path and returns a ValidateResponse.
//   - Watch takes a directory and streams WatchEvent messages.
//   - Status returns a DaemonStatus.
//   - ListSnapshots takes a ListSnapshotsRequest and returns a
//     ListSnapshotsResponse.
//   - Shutdown asks the daemon to exit.
type QtuneDaemonServer interface {
	Validate(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Watch(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListSnapshots(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Shutdown(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
}

// UnimplementedQtuneDaemonServer answers every RPC with codes.Unimplemented.
// Embed it to stay forward compatible.
type UnimplementedQtuneDaemonServer struct{}

func (UnimplementedQtuneDaemonServer) Validate(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Validate not implemented")
}

func (UnimplementedQtuneDaemonServer) Watch(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Error(codes.Unimplemented, "method Watch not implemented")
}

func (UnimplementedQtuneDaemonServer) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}

func (UnimplementedQtuneDaemonServer) ListSnapshots(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListSnapshots not implemented")
}

func (UnimplementedQtuneDaemonServer) Shutdown(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Shutdown not implemented")
}

// RegisterQtuneDaemonServer registers srv with s.
func RegisterQtuneDaemonServer(s grpc.ServiceRegistrar, srv QtuneDaemonServer) {
	s.RegisterService(&QtuneDaemon_ServiceDesc, srv)
}

func unaryHandler[Req any, Res any](
	method string,
	call func(QtuneDaemonServer, context.Context, *Req) (Res, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(QtuneDaemonServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(QtuneDaemonServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(QtuneDaemonServer).Watch(in, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{ServerStream: stream})
}

// QtuneDaemon_ServiceDesc describes the service for grpc.Server.
//
//nolint:revive,stylecheck // matches the protoc-gen-go-grpc naming
var QtuneDaemon_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QtuneDaemonServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Validate",
			Handler: unaryHandler(ValidateFullMethod, func(s QtuneDaemonServer, ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
				return s.Validate(ctx, in)
			}),
		},
		{
			MethodName: "Status",
			Handler: unaryHandler(StatusFullMethod, func(s QtuneDaemonServer, ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
				return s.Status(ctx, in)
			}),
		},
		{
			MethodName: "ListSnapshots",
			Handler: unaryHandler(ListSnapshotsFullMethod, func(s QtuneDaemonServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.ListSnapshots(ctx, in)
			}),
		},
		{
			MethodName: "Shutdown",
			Handler: unaryHandler(ShutdownFullMethod, func(s QtuneDaemonServer, ctx context.Context, in *emptypb.Empty) (*wrapperspb.BoolValue, error) {
				return s.Shutdown(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "qtune/v1/daemon",
}

// QtuneDaemonClient is the client side of QtuneDaemonServer.
type QtuneDaemonClient interface {
	Validate(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Watch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListSnapshots(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
}

type qtuneDaemonClient struct {
	cc grpc.ClientConnInterface
}

// NewQtuneDaemonClient returns a client using cc.
func NewQtuneDaemonClient(cc grpc.ClientConnInterface) QtuneDaemonClient {
	return &qtuneDaemonClient{cc: cc}
}

func (c *qtuneDaemonClient) Validate(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ValidateFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *qtuneDaemonClient) Watch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &QtuneDaemon_ServiceDesc.Streams[0], WatchFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *qtuneDaemonClient) Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, StatusFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *qtuneDaemonClient) ListSnapshots(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListSnapshotsFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *qtuneDaemonClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, ShutdownFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
