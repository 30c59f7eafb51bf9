package serve

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by ApplyEnv. They let a launcher adjust
// the transport without rebuilding the plugin.
const (
	// EnvNetwork selects the transport kind: "tcp" or "unix".
	EnvNetwork = "HOSTBRIDGE_NETWORK"

	// EnvAddress sets the bind address or socket path.
	EnvAddress = "HOSTBRIDGE_ADDRESS"

	// EnvProtocolVersion sets the application protocol version.
	EnvProtocolVersion = "HOSTBRIDGE_PROTOCOL_VERSION"
)

// fileConfig is the YAML shape of a config file. Only transport and
// identity fields are file-configurable; hooks and loggers are code.
type fileConfig struct {
	ProtocolVersion int    `yaml:"protocol_version"`
	Network         string `yaml:"network"`
	Address         string `yaml:"address"`
	Name            string `yaml:"name"`
	Version         string `yaml:"version"`
}

// LoadConfig reads a YAML config file into a Config, leaving unset fields
// at their defaults.
//
// Example file:
//
//	protocol_version: 1
//	network: tcp
//	address: 127.0.0.1:0
//	name: kv
//	version: 1.0.0
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if fc.ProtocolVersion != 0 {
		cfg.ProtocolVersion = fc.ProtocolVersion
	}
	if fc.Network != "" {
		cfg.Network = fc.Network
	}
	if fc.Address != "" {
		cfg.Address = fc.Address
	}
	cfg.Name = fc.Name
	cfg.Version = fc.Version

	return cfg, nil
}

// ApplyEnv overlays the HOSTBRIDGE_* environment variables onto cfg.
// Unset variables leave their field untouched; a malformed protocol
// version is reported rather than silently ignored.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvNetwork); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv(EnvAddress); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv(EnvProtocolVersion); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s=%q: %w", EnvProtocolVersion, v, err)
		}
		cfg.ProtocolVersion = version
	}
	return nil
}
