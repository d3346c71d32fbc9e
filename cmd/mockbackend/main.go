// Command mockbackend serves canned /transcribe and /billing endpoints for
// running the intake service locally.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"visit-intake-service/internal/mockbackend"
	"visit-intake-service/internal/observability/logging"
)

func main() {
	port := flag.String("port", "8000", "HTTP server port")
	requireBearer := flag.Bool("require-bearer", true, "Reject requests without an Authorization bearer")
	logFormat := flag.String("log-format", "console", "Log format (json or console)")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: *logFormat})

	backend := mockbackend.New()
	backend.RequireBearer = *requireBearer

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("port", *port).
		Bool("requireBearer", *requireBearer).
		Int("encounters", len(mockbackend.DefaultEncounters)).
		Msg("Mock backend starting")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("Mock backend failed")
	}
}
