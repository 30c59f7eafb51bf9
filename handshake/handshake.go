// Package handshake builds and parses the startup line a plugin prints to
// stdout so the host can locate it.
//
// The line is a fixed five-field template with literal pipe separators:
//
//	CORE|APP|NETWORK|ADDR|PROTOCOL
//
// for example:
//
//	1|1|tcp|127.0.0.1:54321|grpc
//
// The format is a wire contract consumed by the host's parser. Field
// contents must be reproduced byte for byte; the trailing newline is the
// caller's responsibility when writing the line out.
package handshake

import (
	"fmt"
	"strconv"
	"strings"
)

// CoreProtocolVersion is the version of the handshake protocol itself.
// It changes only when the handshake line format changes, which has never
// happened; plugins always emit 1.
const CoreProtocolVersion = 1

// Network names accepted in the NETWORK field.
const (
	// NetworkTCP advertises a host:port TCP address.
	NetworkTCP = "tcp"

	// NetworkUnix advertises a filesystem domain socket path.
	NetworkUnix = "unix"
)

// RPC protocol names accepted in the PROTOCOL field.
const (
	// ProtocolGRPC is the gRPC wire protocol. This is the only protocol
	// this SDK serves.
	ProtocolGRPC = "grpc"

	// ProtocolNetRPC is the legacy net/rpc protocol name. It exists in the
	// handshake contract but is not implemented here.
	ProtocolNetRPC = "netrpc"
)

// Line holds the five fields of a handshake line.
//
// A Line is a plain value: constructing one never fails, and Format is a
// pure function of its fields.
type Line struct {
	// CoreVersion is the handshake protocol version, always
	// CoreProtocolVersion for lines produced by this SDK.
	CoreVersion int

	// AppVersion is the application protocol version negotiated between
	// the host and the plugin author.
	AppVersion int

	// Network is NetworkTCP or NetworkUnix.
	Network string

	// Addr is the advertised address: "host:port" for TCP, a socket path
	// (with or without the unix:// scheme) for unix.
	Addr string

	// Protocol is ProtocolGRPC or ProtocolNetRPC.
	Protocol string
}

// Format renders the line in the wire format, without a trailing newline.
func (l Line) Format() string {
	return fmt.Sprintf("%d|%d|%s|%s|%s", l.CoreVersion, l.AppVersion, l.Network, l.Addr, l.Protocol)
}

// String implements fmt.Stringer using the wire format.
func (l Line) String() string {
	return l.Format()
}

// Format renders a handshake line from its five fields, without a trailing
// newline.
func Format(coreVersion, appVersion int, network, addr, protocol string) string {
	return Line{
		CoreVersion: coreVersion,
		AppVersion:  appVersion,
		Network:     network,
		Addr:        addr,
		Protocol:    protocol,
	}.Format()
}

// Parse splits a handshake line back into its five fields.
//
// It is the inverse of Format: Parse(l.Format()) recovers l for any line
// whose Addr contains no pipe character (addresses never do). Parsing is
// used by tests and by host-side tooling; plugins only format.
func Parse(s string) (Line, error) {
	s = strings.TrimSuffix(s, "\n")

	parts := strings.Split(s, "|")
	if len(parts) != 5 {
		return Line{}, fmt.Errorf("handshake line has %d fields, want 5: %q", len(parts), s)
	}

	core, err := strconv.Atoi(parts[0])
	if err != nil {
		return Line{}, fmt.Errorf("invalid core protocol version %q: %w", parts[0], err)
	}

	app, err := strconv.Atoi(parts[1])
	if err != nil {
		return Line{}, fmt.Errorf("invalid app protocol version %q: %w", parts[1], err)
	}

	return Line{
		CoreVersion: core,
		AppVersion:  app,
		Network:     parts[2],
		Addr:        parts[3],
		Protocol:    parts[4],
	}, nil
}
