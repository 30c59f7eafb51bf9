package bridgepb

import "fmt"

// Channel discriminates which local stream a mirrored chunk came from.
// The values are part of the wire contract with the host.
type Channel int32

const (
	// ChannelInvalid is the proto zero value and never sent.
	ChannelInvalid Channel = 0

	// ChannelStdout tags bytes written to standard output.
	ChannelStdout Channel = 1

	// ChannelStderr tags bytes written to standard error.
	ChannelStderr Channel = 2
)

// String returns the proto enum name for the channel.
func (c Channel) String() string {
	switch c {
	case ChannelStdout:
		return "STDOUT"
	case ChannelStderr:
		return "STDERR"
	default:
		return "INVALID"
	}
}

// Empty is the request and response type for the controller service and the
// request type for the stdio stream. It mirrors the host's empty message
// and carries no fields.
type Empty struct{}

// Reset implements the legacy proto message interface.
func (m *Empty) Reset() { *m = Empty{} }

// String implements the legacy proto message interface.
func (m *Empty) String() string { return "&Empty{}" }

// ProtoMessage marks Empty as a proto message for the gRPC codec.
func (*Empty) ProtoMessage() {}

// StdioChunk is one mirrored slice of local output: the channel it was
// written to and the raw bytes, in local write order.
type StdioChunk struct {
	Channel Channel `protobuf:"varint,1,opt,name=channel,proto3,enum=plugin.StdioData_Channel" json:"channel,omitempty"`
	Data    []byte  `protobuf:"bytes,2,opt,name=data,proto3" json:"data,omitempty"`
}

// Reset implements the legacy proto message interface.
func (m *StdioChunk) Reset() { *m = StdioChunk{} }

// String implements the legacy proto message interface.
func (m *StdioChunk) String() string {
	return fmt.Sprintf("&StdioChunk{Channel: %s, Data: %d bytes}", m.Channel, len(m.Data))
}

// ProtoMessage marks StdioChunk as a proto message for the gRPC codec.
func (*StdioChunk) ProtoMessage() {}

// GetChannel returns the channel, tolerating a nil receiver.
func (m *StdioChunk) GetChannel() Channel {
	if m == nil {
		return ChannelInvalid
	}
	return m.Channel
}

// GetData returns the payload, tolerating a nil receiver.
func (m *StdioChunk) GetData() []byte {
	if m == nil {
		return nil
	}
	return m.Data
}
