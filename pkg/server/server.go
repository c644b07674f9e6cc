// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/sscollege/helpdesk/pkg/agent"
	"github.com/sscollege/helpdesk/pkg/config"
	"github.com/sscollege/helpdesk/pkg/ratelimit"
	"github.com/sscollege/helpdesk/pkg/session"
)

//go:embed static/index.html
var webUIHTML []byte

const shutdownTimeout = 5 * time.Second

// Server is the helpdesk HTTP service.
type Server struct {
	cfg      config.ServerConfig
	runner   *agent.Runner
	sessions session.Service
	version  string
	baseURL  string
	logger   *slog.Logger
	limiter  *ratelimit.Limiter

	tracerProvider trace.TracerProvider

	registry *prometheus.Registry
	metrics  *metrics

	a2aMu       sync.Mutex
	a2aHandlers map[string]a2aEntry

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version advertised on agent cards.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithBaseURL sets the public URL used in agent cards. Defaults to
// http://HOST:PORT.
func WithBaseURL(u string) Option {
	return func(s *Server) {
		s.baseURL = u
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithRateLimiter caps agent turns per app and user on /run and A2A.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithTracerProvider sets where request spans go. The global provider is
// used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracerProvider = tp
	}
}

// New creates a Server. sessions must be the store runner uses.
func New(cfg config.ServerConfig, runner *agent.Runner, sessions session.Service, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		runner:      runner,
		sessions:    sessions,
		version:     "dev",
		baseURL:     "http://" + cfg.Address(),
		logger:      slog.Default(),
		registry:    prometheus.NewRegistry(),
		a2aHandlers: make(map[string]a2aEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = newMetrics(s.registry)
	return s
}

// Handler returns the full middleware chain and routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.metricsMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/list-apps", s.handleListApps)
	r.Post("/run", s.handleRun)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	r.Get(a2asrv.WellKnownAgentCardPath, s.handleDefaultAgentCard)
	r.Post("/a2a/{app}", s.handleA2A)

	r.Route("/apps/{app}", func(r chi.Router) {
		r.Use(s.requireApp)
		r.Get("/agent-card.json", s.handleAgentCard)
		r.Route("/users/{user}/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)
			r.Post("/{session}", s.handleCreateSession)
			r.Get("/{session}", s.handleGetSession)
			r.Delete("/{session}", s.handleDeleteSession)
		})
	})

	if s.cfg.ServeWeb {
		r.Get("/", s.handleRoot)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	var opts []otelhttp.Option
	if s.tracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(s.tracerProvider))
	}
	return otelhttp.NewHandler(r, "helpdesk", opts...)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if s.limiter != nil {
		go s.limiter.Cleanup(ctx, time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening",
			"address", s.cfg.Address(),
			"agents", s.runner.Registry().Names(),
			"web_ui", s.cfg.ServeWeb)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
