package serve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/hostbridge/sdk/handshake"
)

func TestOptions(t *testing.T) {
	register := func(*grpc.Server) error { return nil }
	reg := &fakeRegistry{}

	cfg := NewConfig(
		WithProtocolVersion(9),
		WithUnixSocket("/tmp/opt.sock"),
		WithPluginInfo("kv", "2.0.0"),
		WithRegistrar(register),
		WithRegistry(reg),
	)

	assert.Equal(t, 9, cfg.ProtocolVersion)
	assert.Equal(t, handshake.NetworkUnix, cfg.Network)
	assert.Equal(t, "/tmp/opt.sock", cfg.Address)
	assert.Equal(t, "kv", cfg.Name)
	assert.Equal(t, "2.0.0", cfg.Version)
	assert.NotNil(t, cfg.Register)
	assert.Same(t, reg, cfg.Registry)
}

func TestWithTCPAddress(t *testing.T) {
	cfg := NewConfig(WithTCPAddress("0.0.0.0:7777"))

	assert.Equal(t, handshake.NetworkTCP, cfg.Network)
	assert.Equal(t, "0.0.0.0:7777", cfg.Address)
}

func TestWithRegistryFromEnvUnset(t *testing.T) {
	// Without the endpoints variable the option is a silent no-op.
	cfg := NewConfig(WithRegistryFromEnv())
	require.Nil(t, cfg.Registry)
}
