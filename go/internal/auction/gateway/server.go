// Package gateway is the viewer-facing HTTP surface: WebSocket rooms that receive auction
// events, timer snapshots, health and metrics.
package gateway

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/pennyauction/go/internal/auction/events"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// TimerSource exposes the running auction timers.
type TimerSource interface {
	AllTimers() map[uuid.UUID]int
}

// Config holds configuration for the gateway
type Config struct {
	Addr             string
	AllowedOrigins   []string
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		AllowedOrigins:   []string{"*"},
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewServer builds the HTTP server. metricsHandler may be nil.
func NewServer(cfg Config, cm *ConnectionManager, timers TimerSource, metricsHandler http.Handler) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodOptions,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	NewWebSocketHandler(cm).RegisterRoutes(mux)

	mux.HandleFunc("/timers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, events.StringTimers(timers.AllTimers()))
	})

	setupHealthCheck(mux)

	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	handler := c.Handler(mux)

	return &http.Server{
		Addr:    cfg.Addr,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
