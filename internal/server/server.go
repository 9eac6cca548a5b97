// Package server exposes the service over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ppiankov/pgokache/internal/advisor"
	"github.com/ppiankov/pgokache/internal/config"
	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/registry"
	"github.com/ppiankov/pgokache/internal/service"
	"github.com/ppiankov/pgokache/internal/store"
)

const maxBodyBytes = 1 << 20

// API is the application surface the server exposes.
type API interface {
	ListInstances(ctx context.Context) ([]model.Instance, error)
	CreateInstance(ctx context.Context, req registry.CreateRequest) (model.Instance, error)
	GetInstance(ctx context.Context, id string) (model.Instance, error)
	PatchInstance(ctx context.Context, id string, req registry.PatchRequest) (model.Instance, error)
	CheckSetup(ctx context.Context, id string) (model.SetupInfo, error)
	SetupStates(ctx context.Context) ([]model.SetupState, error)
	Collect(ctx context.Context, id string, recommend bool) (service.CollectResult, error)
	Recommend(ctx context.Context, id string) (advisor.Summary, error)
	Snapshots(ctx context.Context, id string, top int) ([]model.Snapshot, error)
	Recommendations(ctx context.Context, f store.RecommendationFilter) ([]model.Recommendation, error)
	SetRecommendationStatus(ctx context.Context, id string, next model.Status) (model.Recommendation, error)
	Ping(ctx context.Context) error
}

var _ API = (*service.Service)(nil)

// Options configure the HTTP server.
type Options struct {
	Addr            string
	RateLimit       float64 // requests per second; 0 disables limiting
	RateBurst       int
	ShutdownTimeout time.Duration
	Version         string
}

// OptionsFromConfig maps the server config section.
func OptionsFromConfig(cfg config.Config, version string) Options {
	return Options{
		Addr:            cfg.Server.Addr,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		ShutdownTimeout: cfg.ShutdownTimeout(),
		Version:         version,
	}
}

// Server is the HTTP API server.
type Server struct {
	api     API
	opts    Options
	limiter *rate.Limiter
	handler http.Handler

	mu    sync.RWMutex
	ready bool
}

// New returns a Server over api.
func New(api API, opts Options) *Server {
	s := &Server{api: api, opts: opts}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetReady marks the server as ready to serve traffic.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.withMiddleware(h))
	}
	api("GET /instances/{$}", s.listInstances)
	api("POST /instances/{$}", s.createInstance)
	api("GET /instances/{id}/{$}", s.getInstance)
	api("PATCH /instances/{id}/{$}", s.patchInstance)
	api("POST /instances/{id}/check_setup/{$}", s.checkSetup)
	api("POST /instances/{id}/collect/{$}", s.collect)
	api("POST /instances/{id}/recommend/{$}", s.recommend)
	api("GET /setup-states/{$}", s.setupStates)
	api("GET /snapshots/{$}", s.snapshots)
	api("GET /recommendations/{$}", s.recommendations)
	api("POST /recommendations/{id}/apply/{$}", s.setStatus(model.StatusApplied))
	api("POST /recommendations/{id}/dismiss/{$}", s.setStatus(model.StatusDismissed))

	return mux
}

// Run serves on opts.Addr until ctx is cancelled, then drains in-flight
// requests for up to opts.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.SetReady(true)
		slog.Info("server listening", "addr", ln.Addr().String(), "version", s.opts.Version)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.SetReady(false)

		timeout := s.opts.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		slog.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}
