// Package controller lets the host shut the plugin down remotely.
//
// The host invokes plugin.GRPCController/Shutdown when it no longer needs
// the plugin. Shutdown is unconditional: the serving transport is stopped
// without waiting on open streams, the RPC response is still returned to
// the host before the connection closes, and the process then exits 0.
// Errors while stopping are swallowed — nothing may mask the intended
// termination.
package controller

import (
	"context"
	"log/slog"
	"os"

	"github.com/hostbridge/sdk/bridgepb"
)

// Server implements the plugin.GRPCController service.
type Server struct {
	stop   func()
	exit   func(code int)
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithExit overrides the process exit function. Intended for tests;
// production servers exit via os.Exit.
func WithExit(exit func(code int)) Option {
	return func(s *Server) {
		if exit != nil {
			s.exit = exit
		}
	}
}

// New creates a controller around a stop hook. The hook runs off the RPC
// goroutine and must satisfy both halves of the shutdown contract: let the
// in-flight Shutdown response flush before closing the transport, and
// terminate open stdio streams and health watches itself so they cannot
// hang shutdown.
func New(stop func(), opts ...Option) *Server {
	s := &Server{
		stop:   stop,
		exit:   os.Exit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shutdown stops the transport and terminates the process with exit
// status 0. The work happens on a fresh goroutine so this handler can
// return; a stop hook that drains in-flight RPCs would otherwise deadlock
// waiting for this very handler.
func (s *Server) Shutdown(ctx context.Context, _ *bridgepb.Empty) (*bridgepb.Empty, error) {
	s.logger.Info("shutdown requested by host")

	go func() {
		if s.stop != nil {
			s.stop()
		}
		s.exit(0)
	}()

	return &bridgepb.Empty{}, nil
}
