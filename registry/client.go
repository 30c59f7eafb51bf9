package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EnvEndpoints is the environment variable NewClientFromEnv reads:
// comma-separated etcd endpoints.
const EnvEndpoints = "HOSTBRIDGE_REGISTRY_ENDPOINTS"

// Client is the etcd-backed Registry implementation.
//
// Each Register grants a lease and starts a goroutine renewing it every
// TTL/3; Deregister revokes the lease, which deletes the entry. Safe for
// concurrent use.
type Client struct {
	client    *clientv3.Client
	namespace string
	ttl       int

	mu         sync.Mutex
	leases     map[string]clientv3.LeaseID
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

// NewClient connects to etcd and verifies reachability with a quick read.
// The returned client must be closed to stop its keepalive goroutines.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("registry endpoints cannot be empty")
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "hostbridge"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: 5 * time.Second,
	}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := clientTLS(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("configure registry TLS: %w", err)
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to registry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := cli.Get(ctx, "health-check"); err != nil && err != context.DeadlineExceeded {
		cli.Close()
		return nil, fmt.Errorf("registry reachability check: %w", err)
	}

	return &Client{
		client:     cli,
		namespace:  namespace,
		ttl:        ttl,
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}, nil
}

// NewClientFromEnv builds a client from the EnvEndpoints variable. An
// unset variable returns (nil, nil): serving without a registry is the
// normal case, not an error.
func NewClientFromEnv() (*Client, error) {
	raw := os.Getenv(EnvEndpoints)
	if raw == "" {
		return nil, nil
	}

	endpoints := strings.Split(raw, ",")
	for i, ep := range endpoints {
		endpoints[i] = strings.TrimSpace(ep)
	}

	return NewClient(Config{Endpoints: endpoints})
}

// Register implements Registry.
func (c *Client) Register(ctx context.Context, info Instance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("registry client is closed")
	}

	// Re-registering the same instance restarts its keepalive.
	if cancelFn, ok := c.cancelFns[info.InstanceID]; ok {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}

	leaseResp, err := c.client.Grant(ctx, int64(c.ttl))
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode instance: %w", err)
	}

	key := c.key(info.Name, info.InstanceID)
	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(leaseResp.ID)); err != nil {
		return fmt.Errorf("register instance: %w", err)
	}

	c.leases[info.InstanceID] = leaseResp.ID

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	c.cancelFns[info.InstanceID] = cancel
	c.wg.Add(1)
	go c.keepalive(keepaliveCtx, leaseResp.ID, info.InstanceID)

	return nil
}

// Deregister implements Registry.
func (c *Client) Deregister(ctx context.Context, info Instance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("registry client is closed")
	}

	if cancelFn, ok := c.cancelFns[info.InstanceID]; ok {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}

	leaseID, ok := c.leases[info.InstanceID]
	if !ok {
		return nil
	}

	if _, err := c.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	delete(c.leases, info.InstanceID)

	return nil
}

// Instances implements Registry.
func (c *Client) Instances(ctx context.Context, name string) ([]Instance, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("registry client is closed")
	}

	prefix := fmt.Sprintf("/%s/plugins/%s/", c.namespace, name)
	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info Instance
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			// Skip entries written by incompatible writers.
			continue
		}
		instances = append(instances, info)
	}
	return instances, nil
}

// Close implements Registry.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, cancel := range c.cancelFns {
		cancel()
	}
	c.cancelFns = make(map[string]context.CancelFunc)
	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()
	return c.client.Close()
}

// keepalive renews one lease every TTL/3 until cancelled or the lease
// becomes invalid.
func (c *Client) keepalive(ctx context.Context, leaseID clientv3.LeaseID, instanceID string) {
	defer c.wg.Done()

	ticker := time.NewTicker(time.Duration(c.ttl) * time.Second / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-ticker.C:
			if _, err := c.client.KeepAliveOnce(context.Background(), leaseID); err != nil {
				c.mu.Lock()
				delete(c.leases, instanceID)
				delete(c.cancelFns, instanceID)
				c.mu.Unlock()
				return
			}
		}
	}
}

// key builds the etcd key for one instance:
// /namespace/plugins/name/instance-id.
func (c *Client) key(name, instanceID string) string {
	return fmt.Sprintf("/%s/plugins/%s/%s", c.namespace, name, instanceID)
}
