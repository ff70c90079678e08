package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/five82/printfarm/internal/logging"
	"github.com/five82/printfarm/internal/metrics"
)

// startMetrics serves /metrics on bind until ctx ends. An empty bind disables
// the endpoint.
func startMetrics(ctx context.Context, bind string) (func(), error) {
	if bind == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}
	return serveMetrics(ctx, ln), nil
}

// serveMetrics serves on ln and returns a function that shuts the server down.
func serveMetrics(ctx context.Context, ln net.Listener) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logging.Info().Str("addr", ln.Addr().String()).Msg("metrics endpoint listening")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("metrics server failed")
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
		<-done
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop
}
