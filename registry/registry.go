// Package registry lets a plugin instance announce itself in an etcd
// cluster while it is serving.
//
// Registration is entirely optional and orthogonal to the plugin
// protocol: the host finds a plugin through the handshake line, never
// through the registry. What the registry adds is fleet visibility —
// operators can list the plugin instances currently alive, with their
// endpoints and versions. Entries ride on etcd leases with a TTL, so a
// crashed plugin disappears on its own once its lease lapses.
package registry

import (
	"context"
	"time"
)

// Instance describes one running plugin process.
type Instance struct {
	// Name is the plugin name, e.g. "kv".
	Name string `json:"name"`

	// Version is the plugin's own version string.
	Version string `json:"version"`

	// InstanceID distinguishes concurrent processes of the same plugin,
	// typically a UUID.
	InstanceID string `json:"instance_id"`

	// Endpoint is the advertised address from the handshake line:
	// "host:port" or "unix:///path".
	Endpoint string `json:"endpoint"`

	// Metadata carries optional free-form attributes.
	Metadata map[string]string `json:"metadata,omitempty"`

	// StartedAt is when this process began serving.
	StartedAt time.Time `json:"started_at"`
}

// Registry is the registration surface a serving plugin uses. The etcd
// Client implements it; tests substitute fakes.
type Registry interface {
	// Register announces the instance and keeps its lease alive until
	// Deregister or Close.
	Register(ctx context.Context, info Instance) error

	// Deregister withdraws the instance immediately. Deregistering an
	// unknown instance is a no-op.
	Deregister(ctx context.Context, info Instance) error

	// Instances lists the currently registered processes of one plugin.
	Instances(ctx context.Context, name string) ([]Instance, error)

	// Close stops keepalives and releases the connection.
	Close() error
}

// Config configures the etcd-backed registry client.
type Config struct {
	// Endpoints is the list of etcd endpoints, e.g. ["localhost:2379"].
	Endpoints []string `json:"endpoints"`

	// Namespace is the etcd key prefix. Instances are stored under
	// /{namespace}/plugins/{name}/{instance-id}. Default: "hostbridge".
	Namespace string `json:"namespace"`

	// TTL is the lease time-to-live in seconds; the client renews every
	// TTL/3. Default: 30.
	TTL int `json:"ttl"`

	// TLS configures mutual TLS towards etcd. Nil or disabled means
	// plaintext.
	TLS *TLSConfig `json:"tls,omitempty"`
}

// TLSConfig holds the PEM file paths for a mutual-TLS etcd connection.
// All three paths are required when Enabled is true.
type TLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file"`
}
