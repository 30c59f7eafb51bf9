package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hostbridge/sdk/bridgepb"
	"github.com/hostbridge/sdk/controller"
	"github.com/hostbridge/sdk/handshake"
	"github.com/hostbridge/sdk/health"
	"github.com/hostbridge/sdk/registry"
	"github.com/hostbridge/sdk/stdio"
)

// Config holds the serve configuration. It is read once by NewServer and
// never mutated afterwards.
type Config struct {
	// ProtocolVersion is the application protocol version advertised in
	// the handshake line. Must be at least 1; zero means 1.
	ProtocolVersion int

	// Network selects the transport: handshake.NetworkTCP or
	// handshake.NetworkUnix. Default: tcp.
	Network string

	// Address is the bind address. For tcp, "host:port" or a bare host
	// (an ephemeral port is requested when none is given); default
	// "127.0.0.1:0". For unix, a socket path, with or without the
	// unix:// scheme.
	Address string

	// Register is the caller's service registrar, invoked with the gRPC
	// server before it starts accepting connections. An error here fails
	// startup.
	Register func(*grpc.Server) error

	// Name and Version identify the plugin in logs and in the optional
	// instance registry.
	Name    string
	Version string

	// Logger is the structured logger. Defaults to slog.Default.
	Logger *slog.Logger

	// TracerProvider, when set, instruments the gRPC server with
	// OpenTelemetry stats handling.
	TracerProvider trace.TracerProvider

	// Registry, when set, receives a registration for this plugin
	// instance once serving begins. Registration failures are logged and
	// otherwise ignored; the host finds the plugin through the handshake
	// line regardless.
	Registry InstanceRegistry

	// handshakeOut overrides where the handshake line is written.
	// Tests only; production writes to the real stdout.
	handshakeOut io.Writer

	// exit overrides how the controller terminates the process.
	// Tests only.
	exit func(code int)
}

// ErrUnsupportedNetwork is returned by NewServer when the configured
// network is neither tcp nor unix.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// shutdownGracePeriod bounds how long a host-initiated shutdown waits for
// in-flight RPCs to drain before cutting them off.
const shutdownGracePeriod = 5 * time.Second

// InstanceRegistry is the subset of registry.Registry the server needs.
type InstanceRegistry interface {
	Register(ctx context.Context, info registry.Instance) error
	Deregister(ctx context.Context, info registry.Instance) error
}

// DefaultConfig returns the configuration used when options leave a field
// unset: protocol version 1 over TCP on a loopback ephemeral port.
func DefaultConfig() *Config {
	return &Config{
		ProtocolVersion: 1,
		Network:         handshake.NetworkTCP,
		Address:         "127.0.0.1:0",
		Logger:          slog.Default(),
	}
}

// NewConfig builds a Config from DefaultConfig plus options.
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Server binds the transport, registers the health reporter, the internal
// stdio/controller services when their definitions resolve, and the
// caller's services, then serves until the host shuts it down.
//
// Lifecycle: NewServer leaves the server bound (the listener is accepting
// at the OS level); Serve starts dispatch and emits the handshake line
// exactly once, only after serving has begun.
type Server struct {
	cfg        *Config
	logger     *slog.Logger
	grpcServer *grpc.Server
	listener   net.Listener
	reporter   *health.Reporter
	bridge     *stdio.Bridge
	stdioSrv   *stdio.Server

	network    string
	advertised string
	socketPath string

	handshakeOnce sync.Once
	stopOnce      sync.Once
}

// NewServer resolves the address, binds the transport and registers all
// services. A bind failure or an error from the caller's registrar is
// fatal: the returned error is expected to abort plugin startup before any
// handshake is emitted.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProtocolVersion < 1 {
		cfg.ProtocolVersion = 1
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		bridge: stdio.New(stdio.WithLogger(logger)),
	}

	if err := s.bind(); err != nil {
		return nil, err
	}

	var opts []grpc.ServerOption
	if cfg.TracerProvider != nil {
		opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler(
			otelgrpc.WithTracerProvider(cfg.TracerProvider),
		)))
	}
	s.grpcServer = grpc.NewServer(opts...)

	// The health reporter is registered first and unconditionally: a
	// plugin that cannot prove readiness is not a valid plugin.
	s.reporter = health.NewReporter()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.reporter)

	// The stdio and controller services are registered only when their
	// definitions resolve. Their absence is a packaging condition the
	// protocol tolerates, never an error.
	if capability := bridgepb.Discover(); capability.Found {
		s.stdioSrv = stdio.NewServer(s.bridge)
		s.grpcServer.RegisterService(capability.Stdio, s.stdioSrv)

		ctlOpts := []controller.Option{controller.WithLogger(logger)}
		if cfg.exit != nil {
			ctlOpts = append(ctlOpts, controller.WithExit(cfg.exit))
		}
		s.grpcServer.RegisterService(capability.Controller, controller.New(s.drainAndStop, ctlOpts...))
	} else {
		logger.Debug("internal service definitions unavailable, serving without stdio mirroring and remote shutdown")
	}

	if cfg.Register != nil {
		if err := cfg.Register(s.grpcServer); err != nil {
			s.closeListener()
			return nil, fmt.Errorf("register plugin services: %w", err)
		}
	}

	return s, nil
}

// closeListener releases the bound transport after a startup failure.
func (s *Server) closeListener() {
	s.listener.Close()
	if s.socketPath != "" {
		os.Remove(s.socketPath)
	}
}

// bind resolves the configured address and creates the listener.
func (s *Server) bind() error {
	network := s.cfg.Network
	if network == "" {
		network = handshake.NetworkTCP
	}

	switch network {
	case handshake.NetworkTCP:
		addr := s.cfg.Address
		if addr == "" {
			addr = "127.0.0.1:0"
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			// No port requested (works for bare IPv6 hosts too): ask the
			// OS for an ephemeral one.
			addr = net.JoinHostPort(addr, "0")
		}
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("bind tcp %s: %w", addr, err)
		}
		s.listener = lis
		s.advertised = lis.Addr().String()

	case handshake.NetworkUnix:
		path := strings.TrimPrefix(s.cfg.Address, "unix://")
		if path == "" {
			return fmt.Errorf("bind unix: socket path is required")
		}
		// A crashed process leaves its socket file behind, and listening
		// on it fails with "address already in use".
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale unix socket %s: %w", path, err)
		}
		lis, err := net.Listen("unix", path)
		if err != nil {
			return fmt.Errorf("bind unix %s: %w", path, err)
		}
		// Owner-only: the socket is local IPC between host and plugin.
		if err := os.Chmod(path, 0o600); err != nil {
			lis.Close()
			os.Remove(path)
			return fmt.Errorf("chmod unix socket %s: %w", path, err)
		}
		s.listener = lis
		s.socketPath = path
		s.advertised = "unix://" + path

	default:
		return fmt.Errorf("%w %q (want %q or %q)", ErrUnsupportedNetwork, network, handshake.NetworkTCP, handshake.NetworkUnix)
	}

	s.network = network
	return nil
}

// Serve starts accepting connections, emits the handshake line and blocks
// until the host invokes the remote shutdown, the context is cancelled, or
// a signal arrives.
func (s *Server) Serve(ctx context.Context) error {
	// Mirror direct writes to the process streams while serving. An
	// interception failure degrades mirroring only; it never fails
	// startup.
	if restore, err := s.bridge.Install(); err != nil {
		s.logger.Warn("stdio interception unavailable", "error", err)
	} else {
		defer restore()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(s.listener)
	}()

	s.emitHandshake()
	s.logger.Info("plugin serving",
		"network", s.network,
		"address", s.advertised,
		"protocol_version", s.cfg.ProtocolVersion,
	)

	deregister := s.registerInstance(ctx)
	defer deregister()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.Stop()
		<-errCh
		return ctx.Err()
	case sig := <-sigCh:
		s.logger.Info("signal received, stopping", "signal", sig.String())
		s.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

// Stop halts the server immediately, abandoning in-flight RPCs and open
// streams, and removes the unix socket if one was created. It is safe to
// call more than once and never fails.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.grpcServer.Stop()
		if s.socketPath != "" {
			// Best effort; bind clears any leftover file on next start.
			os.Remove(s.socketPath)
		}
	})
}

// drainAndStop is the host-initiated stop sequence behind the remote
// Shutdown command. The Shutdown response must reach the host before the
// transport closes, and a hard stop right away would sever the connection
// under it. So: first release the bridge's own parked streams (stdio
// mirroring, health watches), then drain the server gracefully — which
// waits out the in-flight Shutdown RPC, flushing its response — and only
// cut remaining caller streams off after the grace period so shutdown can
// never hang.
func (s *Server) drainAndStop() {
	s.reporter.Close()
	if s.stdioSrv != nil {
		s.stdioSrv.Close()
	}

	drained := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(shutdownGracePeriod):
		s.logger.Warn("shutdown grace period elapsed, cutting remaining streams")
		s.grpcServer.Stop()
		<-drained
	}

	s.Stop()
}

// Health returns the health reporter so callers can publish statuses for
// their own services.
func (s *Server) Health() *health.Reporter {
	return s.reporter
}

// Stdio returns the stdio bridge. Callers that want their output mirrored
// without going through os.Stdout can write to its writers directly.
func (s *Server) Stdio() *stdio.Bridge {
	return s.bridge
}

// GRPCServer returns the underlying gRPC server for registrations that
// cannot go through Config.Register.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// Addr returns the advertised address: "host:port" for TCP with the
// concrete bound port, or the unix:// socket path.
func (s *Server) Addr() string {
	return s.advertised
}

// Port returns the bound TCP port, or zero for unix transports.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// emitHandshake writes the handshake line, exactly once per server, to the
// real standard output. The listener is already accepting at this point,
// so a host connecting immediately upon reading the line succeeds.
func (s *Server) emitHandshake() {
	s.handshakeOnce.Do(func() {
		out := s.cfg.handshakeOut
		if out == nil {
			out = s.bridge.RealStdout()
		}
		line := handshake.Format(
			handshake.CoreProtocolVersion,
			s.cfg.ProtocolVersion,
			s.network,
			s.advertised,
			handshake.ProtocolGRPC,
		)
		fmt.Fprintln(out, line)
	})
}

// registerInstance registers this plugin with the configured instance
// registry and returns the matching deregister func. Registry trouble is
// logged and swallowed: the handshake line, not the registry, is how the
// host finds the plugin.
func (s *Server) registerInstance(ctx context.Context) func() {
	if s.cfg.Registry == nil {
		return func() {}
	}

	info := registry.Instance{
		Name:       s.cfg.Name,
		Version:    s.cfg.Version,
		InstanceID: uuid.New().String(),
		Endpoint:   s.advertised,
		StartedAt:  time.Now(),
	}
	if info.Name == "" {
		info.Name = health.PluginService
	}

	if err := s.cfg.Registry.Register(ctx, info); err != nil {
		s.logger.Warn("instance registration failed", "error", err, "endpoint", info.Endpoint)
		return func() {}
	}
	s.logger.Info("instance registered", "name", info.Name, "instance", info.InstanceID)

	return func() {
		deregCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.cfg.Registry.Deregister(deregCtx, info); err != nil {
			s.logger.Warn("instance deregistration failed", "error", err)
		}
	}
}

// Run builds a server from options and serves it. This is the one-call
// entry point for plugin main functions.
func Run(ctx context.Context, opts ...Option) error {
	srv, err := NewServer(NewConfig(opts...))
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}
