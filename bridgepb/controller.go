package bridgepb

import (
	"context"

	"google.golang.org/grpc"
)

// ControllerServiceName is the fully qualified name of the shutdown
// control service as the host dials it.
const ControllerServiceName = "plugin.GRPCController"

// GRPCControllerServer is the server API for the shutdown control service.
type GRPCControllerServer interface {
	// Shutdown tells the plugin to stop serving and terminate. The
	// response is sent before the process exits.
	Shutdown(context.Context, *Empty) (*Empty, error)
}

func shutdownHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GRPCControllerServer).Shutdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ControllerServiceName + "/Shutdown",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GRPCControllerServer).Shutdown(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ControllerServiceDesc is the service descriptor for the shutdown control
// service.
var ControllerServiceDesc = grpc.ServiceDesc{
	ServiceName: ControllerServiceName,
	HandlerType: (*GRPCControllerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Shutdown",
			Handler:    shutdownHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "grpc_controller.proto",
}

// RegisterGRPCControllerServer registers the shutdown control
// implementation with the gRPC server.
func RegisterGRPCControllerServer(s grpc.ServiceRegistrar, srv GRPCControllerServer) {
	s.RegisterService(&ControllerServiceDesc, srv)
}

// GRPCControllerClient is the client API for the shutdown control service.
// It exists for hosts and for tests; plugins only serve.
type GRPCControllerClient interface {
	Shutdown(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error)
}

type grpcControllerClient struct {
	cc grpc.ClientConnInterface
}

// NewGRPCControllerClient creates a client for the shutdown control
// service.
func NewGRPCControllerClient(cc grpc.ClientConnInterface) GRPCControllerClient {
	return &grpcControllerClient{cc}
}

func (c *grpcControllerClient) Shutdown(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, "/"+ControllerServiceName+"/Shutdown", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
