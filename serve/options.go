package serve

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/hostbridge/sdk/registry"
)

// Option is a functional option for configuring a Server.
type Option func(*Config)

// WithProtocolVersion sets the application protocol version advertised in
// the handshake line. The host refuses plugins whose version it does not
// speak, so this must match what the host was built against.
//
// Example:
//
//	serve.Run(ctx, serve.WithProtocolVersion(3))
func WithProtocolVersion(version int) Option {
	return func(c *Config) {
		c.ProtocolVersion = version
	}
}

// WithTCPAddress serves over TCP on the given address. Use "host:0" (or a
// bare host) to request an ephemeral port; the concrete port appears in
// the handshake line.
//
// Example:
//
//	serve.Run(ctx, serve.WithTCPAddress("127.0.0.1:0"))
func WithTCPAddress(addr string) Option {
	return func(c *Config) {
		c.Network = "tcp"
		c.Address = addr
	}
}

// WithUnixSocket serves over a filesystem domain socket at the given
// path. The socket is created with owner-only permissions and removed on
// shutdown. The path may carry the unix:// scheme or not; the advertised
// address always carries it.
//
// Example:
//
//	serve.Run(ctx, serve.WithUnixSocket("/tmp/kv-plugin.sock"))
func WithUnixSocket(path string) Option {
	return func(c *Config) {
		c.Network = "unix"
		c.Address = path
	}
}

// WithRegistrar sets the caller's service registrar. It runs against the
// gRPC server after the bridge's own services are registered and before
// serving begins; an error fails startup before any handshake is emitted.
//
// Example:
//
//	serve.Run(ctx, serve.WithRegistrar(func(s *grpc.Server) error {
//	    kvpb.RegisterKVServer(s, store)
//	    return nil
//	}))
func WithRegistrar(register func(*grpc.Server) error) Option {
	return func(c *Config) {
		c.Register = register
	}
}

// WithPluginInfo sets the plugin name and version used in logs and in the
// optional instance registry.
func WithPluginInfo(name, version string) Option {
	return func(c *Config) {
		c.Name = name
		c.Version = version
	}
}

// WithLogger sets the structured logger for the server and every bridge
// component under it.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithTracerProvider instruments the gRPC server with OpenTelemetry stats
// handling from the given provider. Without it the server is not traced.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// WithRegistry enables self-registration of this plugin instance with a
// service registry once serving begins. Registration failures are logged
// and swallowed; the handshake line remains the authoritative discovery
// channel.
func WithRegistry(reg InstanceRegistry) Option {
	return func(c *Config) {
		c.Registry = reg
	}
}

// WithRegistryFromEnv creates a registry client from the
// HOSTBRIDGE_REGISTRY_ENDPOINTS environment variable. When the variable is
// unset the plugin serves without registering, silently; when it is set
// but the registry is unreachable, the failure is logged and the plugin
// still serves.
func WithRegistryFromEnv() Option {
	return func(c *Config) {
		client, err := registry.NewClientFromEnv()
		if err != nil {
			logger := c.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("registry unavailable, serving without registration", "error", err)
			return
		}
		if client != nil {
			c.Registry = client
		}
	}
}
