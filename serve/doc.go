// Package serve turns the current process into a plugin a host can
// discover and drive.
//
// The server binds a transport (TCP with an ephemeral port, or a unix
// domain socket), registers the health reporter, the internal stdio and
// shutdown services when their definitions resolve, and the caller's own
// gRPC services, then prints the handshake line to stdout and serves until
// the host shuts it down.
//
// # Usage
//
//	func main() {
//	    err := serve.Run(context.Background(),
//	        serve.WithPluginInfo("kv", "1.0.0"),
//	        serve.WithRegistrar(func(s *grpc.Server) error {
//	            kvpb.RegisterKVServer(s, store)
//	            return nil
//	        }),
//	    )
//	    if err != nil {
//	        slog.Error("plugin startup failed", "error", err)
//	        os.Exit(1)
//	    }
//	}
//
// Startup failures (bind errors, registrar errors) are returned before any
// handshake is emitted; the caller prints them and exits non-zero so the
// host sees a failed launch. Once serving, the process terminates with
// status 0 when the host invokes the remote shutdown.
package serve
