package bridgepb

import (
	"context"

	"google.golang.org/grpc"
)

// StdioServiceName is the fully qualified name of the stdio mirroring
// service as the host dials it.
const StdioServiceName = "plugin.GRPCStdio"

// GRPCStdioServer is the server API for the stdio mirroring service.
type GRPCStdioServer interface {
	// StreamStdio is invoked once by the host; the plugin pushes mirrored
	// output chunks on the stream until the host cancels it.
	StreamStdio(*Empty, GRPCStdio_StreamStdioServer) error
}

// GRPCStdio_StreamStdioServer is the server side of the mirrored output
// stream.
type GRPCStdio_StreamStdioServer interface {
	Send(*StdioChunk) error
	grpc.ServerStream
}

type grpcStdioStreamStdioServer struct {
	grpc.ServerStream
}

func (s *grpcStdioStreamStdioServer) Send(m *StdioChunk) error {
	return s.ServerStream.SendMsg(m)
}

func streamStdioHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(GRPCStdioServer).StreamStdio(m, &grpcStdioStreamStdioServer{stream})
}

// StdioServiceDesc is the service descriptor for the stdio mirroring
// service. It is registered through RegisterGRPCStdioServer and passed
// around by the capability discovery in this package.
var StdioServiceDesc = grpc.ServiceDesc{
	ServiceName: StdioServiceName,
	HandlerType: (*GRPCStdioServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamStdio",
			Handler:       streamStdioHandler,
			ServerStreams: true,
		},
	},
	Metadata: "grpc_stdio.proto",
}

// RegisterGRPCStdioServer registers the stdio mirroring implementation
// with the gRPC server.
func RegisterGRPCStdioServer(s grpc.ServiceRegistrar, srv GRPCStdioServer) {
	s.RegisterService(&StdioServiceDesc, srv)
}

// GRPCStdioClient is the client API for the stdio mirroring service.
// It exists for hosts and for tests; plugins only serve.
type GRPCStdioClient interface {
	StreamStdio(ctx context.Context, in *Empty, opts ...grpc.CallOption) (GRPCStdio_StreamStdioClient, error)
}

// GRPCStdio_StreamStdioClient is the client side of the mirrored output
// stream.
type GRPCStdio_StreamStdioClient interface {
	Recv() (*StdioChunk, error)
	grpc.ClientStream
}

type grpcStdioClient struct {
	cc grpc.ClientConnInterface
}

// NewGRPCStdioClient creates a client for the stdio mirroring service.
func NewGRPCStdioClient(cc grpc.ClientConnInterface) GRPCStdioClient {
	return &grpcStdioClient{cc}
}

func (c *grpcStdioClient) StreamStdio(ctx context.Context, in *Empty, opts ...grpc.CallOption) (GRPCStdio_StreamStdioClient, error) {
	stream, err := c.cc.NewStream(ctx, &StdioServiceDesc.Streams[0], "/"+StdioServiceName+"/StreamStdio", opts...)
	if err != nil {
		return nil, err
	}
	x := &grpcStdioStreamStdioClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type grpcStdioStreamStdioClient struct {
	grpc.ClientStream
}

func (x *grpcStdioStreamStdioClient) Recv() (*StdioChunk, error) {
	m := new(StdioChunk)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
