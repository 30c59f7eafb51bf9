package sdk

import (
	"context"
	"log/slog"
	"os"

	"github.com/hostbridge/sdk/serve"
)

// Version is the SDK release version.
const Version = "0.1.0"

// Option configures the plugin server. The With* functions in this
// package are re-exports of the serve package's options so that simple
// plugins only import sdk.
type Option = serve.Option

// Re-exported server options. See the serve package for details.
var (
	WithProtocolVersion = serve.WithProtocolVersion
	WithTCPAddress      = serve.WithTCPAddress
	WithUnixSocket      = serve.WithUnixSocket
	WithRegistrar       = serve.WithRegistrar
	WithPluginInfo      = serve.WithPluginInfo
	WithLogger          = serve.WithLogger
	WithTracerProvider  = serve.WithTracerProvider
	WithRegistry        = serve.WithRegistry
	WithRegistryFromEnv = serve.WithRegistryFromEnv
)

// Serve runs a plugin server until the context is cancelled, the host
// requests shutdown, or the process receives SIGINT/SIGTERM. It is the
// one call most plugin main functions need.
//
// Example:
//
//	err := sdk.Serve(ctx,
//	    sdk.WithPluginInfo("kv", "1.0.0"),
//	    sdk.WithRegistrar(registerKV),
//	)
func Serve(ctx context.Context, opts ...Option) error {
	srv, err := NewServer(opts...)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// NewServer builds a plugin server without starting it, for callers that
// need the bound address or the underlying gRPC server before serving.
// Startup failures are wrapped as transport SDKErrors.
func NewServer(opts ...Option) (*serve.Server, error) {
	srv, err := serve.NewServer(serve.NewConfig(opts...))
	if err != nil {
		return nil, NewTransportError("sdk.NewServer", err)
	}
	return srv, nil
}

// NewLogger returns the JSON slog logger plugins use by default. Plugin
// logs go to stderr: stdout belongs to the handshake line.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
