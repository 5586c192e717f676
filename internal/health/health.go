// Package health serves liveness over HTTP and mirrors it into the gRPC
// health service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const pingTimeout = time.Second

// Pinger is anything with a cheap reachability check: a store, a broker link.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func check(ctx context.Context, p Pinger) Status {
	if p == nil {
		return Status{OK: true, Message: "ok"}
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: "ping failed: " + err.Error()}
	}
	return Status{OK: true, Message: "ok"}
}

// HTTPHandler reports 200 when p answers and 503 otherwise. A nil p is healthy.
func HTTPHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := check(r.Context(), p)
		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}

// Watch pings p every interval and publishes the result for service on srv
// until ctx is done, at which point the service is marked not serving.
func Watch(ctx context.Context, p Pinger, srv *grpchealth.Server, service string, interval time.Duration) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if !check(ctx, p).OK {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		srv.SetServingStatus(service, status)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			update()
		}
	}
}
