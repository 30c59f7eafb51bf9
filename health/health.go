// Package health answers the host's readiness probes.
//
// The host checks the gRPC health service for the reserved service name
// "plugin" and treats anything other than SERVING as "not ready". The
// Reporter keeps that entry SERVING from the moment the server starts
// until the process exits; additional entries can be published for the
// caller's own services but carry no meaning to the host.
package health

import (
	"context"
	"sync"

	"google.golang.org/grpc/health/grpc_health_v1"
)

// PluginService is the service name the host probes for plugin readiness.
const PluginService = "plugin"

// Reporter implements grpc_health_v1.HealthServer over an in-memory
// service-name to status table.
//
// Unlike the stock health server, Check never fails: a name that is not in
// the table reports SERVICE_UNKNOWN as a status rather than a NOT_FOUND
// error, and an empty name is an alias for PluginService. Watch pushes the
// current status once and then parks until the subscriber cancels or the
// reporter is closed; the table never changes after startup, so there is
// nothing further to push.
//
// Safe for concurrent use.
type Reporter struct {
	grpc_health_v1.UnimplementedHealthServer

	mu       sync.RWMutex
	statuses map[string]grpc_health_v1.HealthCheckResponse_ServingStatus

	closing   chan struct{}
	closeOnce sync.Once
}

// NewReporter creates a Reporter with the PluginService entry already
// SERVING.
func NewReporter() *Reporter {
	return &Reporter{
		statuses: map[string]grpc_health_v1.HealthCheckResponse_ServingStatus{
			PluginService: grpc_health_v1.HealthCheckResponse_SERVING,
		},
		closing: make(chan struct{}),
	}
}

// Close releases every parked Watch stream so that draining the server
// during shutdown never waits on a watcher. Safe to call more than once.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
}

// SetStatus publishes a status for a service name. The bridge itself only
// writes the PluginService entry at construction; this is for callers that
// want to expose their own services through the same table.
func (r *Reporter) SetStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[service] = status
}

// Check implements the unary health probe.
func (r *Reporter) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{
		Status: r.status(req.GetService()),
	}, nil
}

// Watch implements the streaming health probe. It sends the current status
// immediately and then blocks until the subscriber goes away or the
// reporter closes; either is a normal end of the stream, not an error.
func (r *Reporter) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	resp := &grpc_health_v1.HealthCheckResponse{
		Status: r.status(req.GetService()),
	}
	if err := stream.Send(resp); err != nil {
		return err
	}

	select {
	case <-stream.Context().Done():
	case <-r.closing:
	}
	return nil
}

func (r *Reporter) status(service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if service == "" {
		service = PluginService
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.statuses[service]
	if !ok {
		return grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return status
}
