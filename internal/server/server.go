// Package server exposes the service's operational surfaces: a gRPC server
// with health and reflection, and an HTTP mux for probes and metrics.
package server

import (
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"MarginVault/internal/observability"
)

// GRPCServer wraps the gRPC health/reflection endpoint.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

func NewGRPCServer(log zerolog.Logger) *GRPCServer {
	srv := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	reflection.Register(srv)
	return &GRPCServer{srv: srv, health: h, log: log}
}

// Serve listens on addr and blocks until Stop.
func (g *GRPCServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	g.log.Info().Str("addr", addr).Msg("grpc server listening")
	return g.srv.Serve(lis)
}

// SetServing flips the gRPC health status.
func (g *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
}

// Stop drains in-flight RPCs and shuts down.
func (g *GRPCServer) Stop() {
	g.srv.GracefulStop()
}

// NewHTTPServer builds the probe/metrics mux.
func NewHTTPServer(addr string, checker *observability.HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.LivenessHandler)
	mux.HandleFunc("/readyz", checker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
