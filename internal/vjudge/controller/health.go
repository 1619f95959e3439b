package controller

import (
	"context"
	"sync"
	"time"

	"vjudge/pkg/utils/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name reported for the vjudge node.
const HealthService = "vjudge.VJudge"

// HealthReporter mirrors account health into a gRPC health server, one service
// per account plus the node itself. A node is serving when it runs no accounts
// or at least one of them is working. Accounts that disappear are reported as
// SERVICE_UNKNOWN.
type HealthReporter struct {
	judge  Judge
	server *health.Server

	mu       sync.Mutex
	reported map[string]struct{}
}

func NewHealthReporter(judge Judge, server *health.Server) *HealthReporter {
	return &HealthReporter{judge: judge, server: server, reported: make(map[string]struct{})}
}

// Update recomputes the status once and returns it.
func (r *HealthReporter) Update(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	statuses := r.judge.CheckStatus(ctx, false)
	r.mu.Lock()
	defer r.mu.Unlock()
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if len(statuses) == 0 {
		status = healthpb.HealthCheckResponse_SERVING
	}
	current := make(map[string]struct{}, len(statuses))
	for key, s := range statuses {
		account := healthpb.HealthCheckResponse_NOT_SERVING
		if s.Working {
			account = healthpb.HealthCheckResponse_SERVING
			status = healthpb.HealthCheckResponse_SERVING
		}
		r.server.SetServingStatus(HealthService+"/"+key, account)
		current[key] = struct{}{}
	}
	for key := range r.reported {
		if _, ok := current[key]; !ok {
			r.server.SetServingStatus(HealthService+"/"+key, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
	r.reported = current
	r.server.SetServingStatus(HealthService, status)
	r.server.SetServingStatus("", status)
	return status
}

// Run calls Update every interval until ctx is done, then marks the node as shutting down.
func (r *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		if status := r.Update(ctx); status != last {
			logger.Info(ctx, "vjudge health changed", zap.String("status", status.String()))
			last = status
		}
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
