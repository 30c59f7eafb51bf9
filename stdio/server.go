package stdio

import (
	"sync"

	"github.com/hostbridge/sdk/bridgepb"
)

// Server is the gRPC glue for the plugin.GRPCStdio service: each
// StreamStdio call becomes the bridge's current attachment for as long as
// the host keeps it open.
type Server struct {
	bridge *Bridge

	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates the service implementation around a bridge.
func NewServer(bridge *Bridge) *Server {
	return &Server{
		bridge:  bridge,
		closing: make(chan struct{}),
	}
}

// Close ends every open StreamStdio call so that draining the gRPC server
// during shutdown never waits on the mirroring stream. Safe to call more
// than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
}

// StreamStdio attaches the host's stream and blocks until the host cancels
// it or the server closes. The return is always nil; a host going away is
// the normal end of mirroring, not a failure.
func (s *Server) StreamStdio(_ *bridgepb.Empty, stream bridgepb.GRPCStdio_StreamStdioServer) error {
	s.bridge.Attach(stream)
	defer s.bridge.Detach(stream)

	select {
	case <-stream.Context().Done():
	case <-s.closing:
	}
	return nil
}
