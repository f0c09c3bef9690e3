// Command healthcheck queries the service's gRPC health endpoint and exits
// non-zero unless it reports SERVING. It is meant for container probes.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "live-transcription-service/internal/api/grpc"
	"live-transcription-service/internal/observability/logging"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC server address")
	service := flag.String("service", grpcapi.ServiceName, "Health service name (empty for overall)")
	timeout := flag.Duration("timeout", 3*time.Second, "Probe timeout")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})
	os.Exit(probe(*addr, *service, *timeout))
}

func probe(addr, service string, timeout time.Duration) int {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("Failed to create client")
		return 2
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("Health check failed")
		return 2
	}

	status := resp.GetStatus()
	log.Info().Str("service", service).Str("status", status.String()).Msg("Health")
	if status != grpc_health_v1.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}
