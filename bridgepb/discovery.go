package bridgepb

import (
	"bytes"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

// Capability reports whether the internal service definitions resolved and,
// when they did, carries their descriptors for registration.
//
// A zero Capability means not found: the plugin serves without stdio
// mirroring and without remote shutdown, which a host must tolerate.
type Capability struct {
	// Found is true when both internal service definitions are usable.
	Found bool

	// Stdio is the stdio mirroring service descriptor. Nil unless Found.
	Stdio *grpc.ServiceDesc

	// Controller is the shutdown control service descriptor. Nil unless
	// Found.
	Controller *grpc.ServiceDesc
}

// Discover resolves the internal service definitions once at startup.
//
// Resolution probes the protobuf runtime with the hand-maintained wire
// types: the definitions count as found only when the runtime can derive
// descriptors for them and round-trip a chunk byte for byte. A probe
// failure is not an error — the caller skips registering the two services
// and the plugin stays valid per the protocol.
func Discover() Capability {
	if err := probeWireTypes(); err != nil {
		return Capability{}
	}
	return Capability{
		Found:      true,
		Stdio:      &StdioServiceDesc,
		Controller: &ControllerServiceDesc,
	}
}

// probeWireTypes round-trips one chunk and one empty message through the
// protobuf runtime.
func probeWireTypes() error {
	in := &StdioChunk{Channel: ChannelStderr, Data: []byte("probe")}

	raw, err := proto.Marshal(protoadapt.MessageV2Of(in))
	if err != nil {
		return fmt.Errorf("marshal stdio chunk: %w", err)
	}

	out := new(StdioChunk)
	if err := proto.Unmarshal(raw, protoadapt.MessageV2Of(out)); err != nil {
		return fmt.Errorf("unmarshal stdio chunk: %w", err)
	}
	if out.Channel != in.Channel || !bytes.Equal(out.Data, in.Data) {
		return fmt.Errorf("stdio chunk did not round-trip")
	}

	if _, err := proto.Marshal(protoadapt.MessageV2Of(new(Empty))); err != nil {
		return fmt.Errorf("marshal empty: %w", err)
	}

	return nil
}
