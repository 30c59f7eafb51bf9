package serve

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hostbridge/sdk/bridgepb"
	"github.com/hostbridge/sdk/handshake"
	"github.com/hostbridge/sdk/registry"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1, cfg.ProtocolVersion)
	assert.Equal(t, handshake.NetworkTCP, cfg.Network)
	assert.Equal(t, "127.0.0.1:0", cfg.Address)
	assert.NotNil(t, cfg.Logger)
}

func TestNewServerTCP(t *testing.T) {
	tests := []struct {
		name    string
		address string
	}{
		{name: "explicit ephemeral port", address: "127.0.0.1:0"},
		{name: "no port requests ephemeral", address: "127.0.0.1"},
		{name: "default address", address: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Address = tt.address

			srv, err := NewServer(cfg)
			require.NoError(t, err)
			defer srv.Stop()

			assert.Greater(t, srv.Port(), 0)

			host, port, err := net.SplitHostPort(srv.Addr())
			require.NoError(t, err)
			assert.NotEmpty(t, host)
			assert.NotEqual(t, "0", port)
		})
	}
}

func TestNewServerTCPBareIPv6Host(t *testing.T) {
	lis, err := net.Listen("tcp", "[::1]:0")
	if err != nil {
		t.Skip("IPv6 loopback unavailable")
	}
	lis.Close()

	// A bare IPv6 host contains colons but carries no port; it still gets
	// an ephemeral one.
	cfg := DefaultConfig()
	cfg.Address = "::1"

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer srv.Stop()

	assert.Greater(t, srv.Port(), 0)

	host, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	assert.Equal(t, "::1", host)
	assert.NotEqual(t, "0", port)
}

func TestNewServerUnix(t *testing.T) {
	tests := []struct {
		name    string
		address func(path string) string
	}{
		{name: "bare path", address: func(p string) string { return p }},
		{name: "scheme already present", address: func(p string) string { return "unix://" + p }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			socketPath := filepath.Join(t.TempDir(), "plugin.sock")

			cfg := DefaultConfig()
			cfg.Network = handshake.NetworkUnix
			cfg.Address = tt.address(socketPath)

			srv, err := NewServer(cfg)
			require.NoError(t, err)

			assert.Equal(t, "unix://"+socketPath, srv.Addr())

			info, err := os.Stat(socketPath)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			srv.Stop()
			_, err = os.Stat(socketPath)
			assert.True(t, os.IsNotExist(err), "socket should be removed on stop")
		})
	}
}

func TestNewServerUnixReplacesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "plugin.sock")

	// A crash leaves the socket file behind; listening on it would fail
	// with "address already in use" were it not cleared first.
	require.NoError(t, os.WriteFile(socketPath, nil, 0o600))

	cfg := DefaultConfig()
	cfg.Network = handshake.NetworkUnix
	cfg.Address = socketPath

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer srv.Stop()

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, info.Mode()&os.ModeSocket)
}

func TestNewServerErrors(t *testing.T) {
	t.Run("unsupported network", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Network = "sctp"

		_, err := NewServer(cfg)
		assert.ErrorIs(t, err, ErrUnsupportedNetwork)
	})

	t.Run("unix without path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Network = handshake.NetworkUnix
		cfg.Address = ""

		_, err := NewServer(cfg)
		assert.Error(t, err)
	})

	t.Run("registrar error fails startup", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Register = func(*grpc.Server) error {
			return errors.New("bad service")
		}

		_, err := NewServer(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad service")
	})
}

// syncBuffer is a bytes.Buffer safe for the Serve goroutine to write while
// the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startServer runs Serve in the background and waits for the handshake
// line. It returns the server, the handshake output, the exit-code
// channel, and the Serve result channel.
func startServer(t *testing.T, cfg *Config) (*Server, *syncBuffer, chan int, chan error) {
	t.Helper()

	out := &syncBuffer{}
	exitCh := make(chan int, 1)
	cfg.handshakeOut = out
	cfg.exit = func(code int) { exitCh <- code }

	srv, err := NewServer(cfg)
	require.NoError(t, err)

	serveErr := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		serveErr <- srv.Serve(context.Background())
		close(done)
	}()
	// Wait out the Serve goroutine so its stdio restore cannot race the
	// next test's install.
	t.Cleanup(func() {
		srv.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return during cleanup")
		}
	})

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "\n")
	}, 5*time.Second, 10*time.Millisecond, "handshake line was not emitted")

	return srv, out, exitCh, serveErr
}

func dial(t *testing.T, target string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServeEmitsHandshakeAndAnswersHealth(t *testing.T) {
	srv, out, _, _ := startServer(t, DefaultConfig())

	// Exactly one line, in the wire format, advertising the bound port.
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 1)

	line, err := handshake.Parse(lines[0])
	require.NoError(t, err)
	assert.Equal(t, handshake.CoreProtocolVersion, line.CoreVersion)
	assert.Equal(t, 1, line.AppVersion)
	assert.Equal(t, handshake.NetworkTCP, line.Network)
	assert.Equal(t, srv.Addr(), line.Addr)
	assert.Equal(t, handshake.ProtocolGRPC, line.Protocol)

	// A client connecting right after the line appears must succeed.
	conn := dial(t, line.Addr)
	healthClient := grpc_health_v1.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	resp, err := healthClient.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "plugin"})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	resp, err = healthClient.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "nope"})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN, resp.Status)
}

func TestServeCustomProtocolVersion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProtocolVersion = 42

	_, out, _, _ := startServer(t, cfg)

	line, err := handshake.Parse(strings.TrimSuffix(out.String(), "\n"))
	require.NoError(t, err)
	assert.Equal(t, 42, line.AppVersion)
}

func TestServeUnixHandshake(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "plugin.sock")
	cfg := DefaultConfig()
	cfg.Network = handshake.NetworkUnix
	cfg.Address = socketPath

	srv, out, _, _ := startServer(t, cfg)

	line, err := handshake.Parse(strings.TrimSuffix(out.String(), "\n"))
	require.NoError(t, err)
	assert.Equal(t, handshake.NetworkUnix, line.Network)
	assert.Equal(t, "unix://"+socketPath, line.Addr)

	conn := dial(t, srv.Addr())
	healthClient := grpc_health_v1.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	resp, err := healthClient.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}

func TestStdioMirroredToHost(t *testing.T) {
	srv, _, _, _ := startServer(t, DefaultConfig())

	conn := dial(t, srv.Addr())
	stdioClient := bridgepb.NewGRPCStdioClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := stdioClient.StreamStdio(ctx, &bridgepb.Empty{})
	require.NoError(t, err)

	// Writes race the attach; keep writing until a chunk arrives.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_, _ = srv.Stdio().Stderr().Write([]byte("mirrored\n"))
			}
		}
	}()
	defer close(done)

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, bridgepb.ChannelStderr, chunk.GetChannel())
	assert.Equal(t, []byte("mirrored\n"), chunk.GetData())
}

func TestHostShutdownTerminatesWithStdioAttached(t *testing.T) {
	srv, _, exitCh, serveErr := startServer(t, DefaultConfig())

	conn := dial(t, srv.Addr())

	// Keep a live stdio stream open so shutdown has to end it itself.
	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()
	stream, err := bridgepb.NewGRPCStdioClient(conn).StreamStdio(streamCtx, &bridgepb.Empty{})
	require.NoError(t, err)

	// Prove the stream is attached and flowing before asking for shutdown.
	writeDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-writeDone:
				return
			case <-ticker.C:
				_, _ = srv.Stdio().Stdout().Write([]byte("live\n"))
			}
		}
	}()
	chunk, err := stream.Recv()
	close(writeDone)
	require.NoError(t, err)
	assert.Equal(t, bridgepb.ChannelStdout, chunk.GetChannel())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The Shutdown response must arrive intact — the transport may not be
	// torn down under the in-flight RPC.
	resp, err := bridgepb.NewGRPCControllerClient(conn).Shutdown(ctx, &bridgepb.Empty{})
	require.NoError(t, err)
	require.NotNil(t, resp)

	select {
	case code := <-exitCh:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("process exit was not requested")
	}

	select {
	case err := <-serveErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}

func TestServeReturnsOnContextCancel(t *testing.T) {
	cfg := DefaultConfig()
	out := &syncBuffer{}
	cfg.handshakeOut = out
	cfg.exit = func(int) {}

	srv, err := NewServer(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "\n")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-serveErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// fakeRegistry records registrations for assertions.
type fakeRegistry struct {
	mu           sync.Mutex
	registered   []registry.Instance
	deregistered []registry.Instance
	err          error
}

func (f *fakeRegistry) Register(_ context.Context, info registry.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.registered = append(f.registered, info)
	return nil
}

func (f *fakeRegistry) Deregister(_ context.Context, info registry.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregistered = append(f.deregistered, info)
	return nil
}

func TestInstanceRegistration(t *testing.T) {
	reg := &fakeRegistry{}

	cfg := DefaultConfig()
	cfg.Registry = reg
	cfg.Name = "kv"
	cfg.Version = "1.0.0"

	srv, _, _, serveErr := startServer(t, cfg)

	reg.mu.Lock()
	require.Len(t, reg.registered, 1)
	info := reg.registered[0]
	reg.mu.Unlock()

	assert.Equal(t, "kv", info.Name)
	assert.Equal(t, "1.0.0", info.Version)
	assert.NotEmpty(t, info.InstanceID)
	assert.Equal(t, srv.Addr(), info.Endpoint)

	srv.Stop()
	select {
	case <-serveErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after stop")
	}

	reg.mu.Lock()
	assert.Len(t, reg.deregistered, 1)
	reg.mu.Unlock()
}

func TestRegistryFailureIsSwallowed(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("registry down")}

	cfg := DefaultConfig()
	cfg.Registry = reg

	srv, _, _, _ := startServer(t, cfg)

	// The plugin serves regardless of the registry failure.
	conn := dial(t, srv.Addr())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}
