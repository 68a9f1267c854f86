// Package control exposes the running daemon over a small local HTTP API
// and provides the client the CLI uses to reach it.
//
// Routes:
//
//	GET  /healthz      liveness probe
//	GET  /v1/status    engine status as JSON
//	POST /v1/enable    turn publishing on
//	POST /v1/disable   clear the presence and turn publishing off
//	POST /v1/refresh   reconcile now
//	GET  /metrics      Prometheus exposition
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tools.zach/dev/cutpresence/internal/engine"
	"tools.zach/dev/cutpresence/internal/logger"
)

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

// Controller is the part of the engine the API drives.
type Controller interface {
	Enable()
	Disable()
	Refresh()
	Status() engine.Status
}

// ServerOptions configures a Server.
type ServerOptions struct {
	// Addr is the TCP listen address, e.g. "127.0.0.1:38917".
	Addr string
	// RateLimitPerMinute caps POST requests per client IP. Zero disables it.
	RateLimitPerMinute int
	// Gatherer backs /metrics. Nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the control API.
type Server struct {
	ctrl    Controller
	opts    ServerOptions
	log     *slog.Logger
	handler http.Handler
}

// shutdownTimeout bounds the graceful shutdown of the listener.
const shutdownTimeout = 5 * time.Second

// NewServer builds the router for ctrl.
func NewServer(ctrl Controller, opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		ctrl: ctrl,
		opts: opts,
		log:  log.With(logger.ComponentKey, "control"),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the API's http.Handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Group(func(r chi.Router) {
			if n := s.opts.RateLimitPerMinute; n > 0 {
				r.Use(httprate.Limit(n, time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
						w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
						writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limit_exceeded"})
					}),
				))
			}
			r.Post("/enable", s.command("enable", s.ctrl.Enable))
			r.Post("/disable", s.command("disable", s.ctrl.Disable))
			r.Post("/refresh", s.command("refresh", s.ctrl.Refresh))
		})
	})
	return r
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("control listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.log.Info("control server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("control shutdown: %w", err)
		}
		<-errCh
		s.log.Info("control server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control serve: %w", err)
	}
}

// ///////////////////////////////////////////////
// Handlers
// ///////////////////////////////////////////////

type errorBody struct {
	Error string `json:"error"`
}

// commandResult acknowledges a queued command. Commands run asynchronously
// on the engine goroutine.
type commandResult struct {
	Accepted string `json:"accepted"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) command(name string, fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		fn()
		s.log.Info("command accepted", "command", name)
		writeJSON(w, http.StatusAccepted, commandResult{Accepted: name})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Trace(s.log, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
