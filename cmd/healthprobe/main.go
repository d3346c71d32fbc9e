// Command healthprobe queries the service's gRPC health endpoint and exits
// non-zero unless it reports SERVING. It is meant for container probes.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	addr := flag.String("server", "localhost:50051", "gRPC server address")
	service := flag.String("service", "", "Health service name; empty checks the whole server")
	timeout := flag.Duration("timeout", 3*time.Second, "Probe timeout")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Str("server", *addr).Msg("Failed to connect")
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: *service})
	if err != nil {
		log.Error().Err(err).Str("server", *addr).Msg("Health check failed")
		os.Exit(1)
	}

	status := resp.GetStatus()
	log.Info().Str("server", *addr).Str("service", *service).Str("status", status.String()).Msg("Health check")
	if status != grpc_health_v1.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}
