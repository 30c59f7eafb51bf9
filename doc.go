// Package sdk is the entry point for writing hostbridge plugins in Go.
//
// A hostbridge plugin is an ordinary process started by a host
// application. On startup the plugin binds a gRPC server, prints a
// single handshake line to stdout telling the host where to connect,
// and then serves until the host shuts it down. The SDK takes care of
// the whole protocol: the handshake line, the gRPC health service the
// host polls for readiness, the stdio stream that mirrors the plugin's
// output back to the host, and the controller service the host uses to
// stop the plugin remotely.
//
// A minimal plugin registers its own gRPC service and calls Serve:
//
//	func main() {
//	    ctx := context.Background()
//	    err := sdk.Serve(ctx,
//	        sdk.WithPluginInfo("kv", "1.0.0"),
//	        sdk.WithRegistrar(func(s *grpc.Server) error {
//	            kvpb.RegisterKVServer(s, newStore())
//	            return nil
//	        }),
//	    )
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// The subpackages are usable on their own when finer control is needed:
//
//   - serve: the server lifecycle (bind, handshake, signal handling)
//   - handshake: the handshake line format
//   - health: the gRPC health reporter
//   - stdio: stdout/stderr mirroring to the host
//   - controller: host-initiated shutdown
//   - bridgepb: wire types and service descriptors for the internal
//     bridge services
//   - registry: optional etcd-based instance registration
package sdk
