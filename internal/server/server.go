package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/newsdesk/internal/metrics"
	"reddot-watch/newsdesk/internal/server/api"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewHandler mounts the API, health and metrics endpoints behind the request
// logging chain. db may be nil when the store has nothing to ping.
func NewHandler(h *api.Handler, db Pinger, logger zerolog.Logger) http.Handler {
	// Add service identifier to the logger
	logger = logger.With().Str("service", "newsdesk-api").Logger()

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health", healthCheckHandler(db))
	mux.Handle("GET /metrics", metrics.Handler())

	routes := append(api.Routes(), "/health", "/metrics")

	// Set up middleware chain for logging and request tracking
	handler := hlog.NewHandler(logger)(mux)
	handler = hlog.MethodHandler("method")(handler)
	handler = hlog.URLHandler("url")(handler)
	handler = hlog.RemoteAddrHandler("remote_addr")(handler)
	handler = hlog.UserAgentHandler("user_agent")(handler)
	handler = hlog.RequestIDHandler("req_id", "Request-Id")(handler)
	handler = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		idReq, _ := hlog.IDFromRequest(r)

		route := r.URL.Path
		if !slices.Contains(routes, route) {
			route = "other"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("req_id", idReq.String()).
			Msg("HTTP Request")
	})(handler)

	return handler
}

// RunServer serves handler on listenAddr until ctx is done or the process
// receives SIGINT or SIGTERM, then shuts down gracefully.
func RunServer(ctx context.Context, handler http.Handler, listenAddr string, logger zerolog.Logger) error {
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Rewrites and pulls answer synchronously.
		WriteTimeout: 11 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErr:
		return err

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	case <-ctx.Done():
		logger.Info().Msg("Context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		if err := httpServer.Close(); err != nil {
			logger.Error().Err(err).Msg("HTTP server force close error")
		}
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
	if err := <-serverErr; err != nil {
		logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

// healthCheckHandler responds 200 OK while the store is reachable.
func healthCheckHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Health check request received")

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				log.Error().Err(err).Msg("Health check database ping failed")
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		n, err := w.Write([]byte("OK"))
		if err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		} else {
			log.Debug().Int("bytes_written", n).Msg("Health check response sent")
		}
	}
}
