// Package bridgepb carries the wire definitions for the two internal
// services a host may drive on a plugin: the stdio mirroring stream
// (plugin.GRPCStdio) and the remote shutdown control (plugin.GRPCController).
//
// The message and service definitions are hand-maintained rather than
// generated. They mirror the host's grpc_stdio.proto and
// grpc_controller.proto:
//
//	message Empty {}
//
//	message StdioData {
//	    enum Channel { INVALID = 0; STDOUT = 1; STDERR = 2; }
//	    Channel channel = 1;
//	    bytes   data    = 2;
//	}
//
//	service GRPCStdio      { rpc StreamStdio(Empty) returns (stream StdioData); }
//	service GRPCController { rpc Shutdown(Empty) returns (Empty); }
//
// Whether these definitions are usable in the current build is a packaging
// concern, not a protocol concern: callers resolve them once at startup via
// Discover and register the services only when the returned Capability
// reports Found.
package bridgepb
