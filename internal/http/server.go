// Package http serves the JSON API over the local store, the cloud backup
// engine and the relational expenses table.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"expensia/internal/clock"
	applog "expensia/internal/log"
	"expensia/internal/middleware/ratelimit"
	"expensia/internal/middleware/security"
	"expensia/internal/middleware/trace"
)

// Deps are the collaborators the API serves. Auth and Expenses are
// optional: without Auth the cloud endpoints answer 503, without Expenses
// the relational routes are not mounted.
type Deps struct {
	Store    LocalStore
	Settings BackupSettings
	Backups  BackupService
	Auth     Authenticator
	Expenses ExpenseRepository

	// Ready reports whether storage is usable; nil means always ready.
	Ready func(ctx context.Context) error

	Logger         *applog.Logger
	Clock          clock.Clock
	RateLimit      ratelimit.Config
	TrustedProxies []string
}

type Server struct {
	http.Server
	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
	detector *security.Detector
	ready    func(ctx context.Context) error

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.RateLimit.Clock == nil {
		deps.RateLimit.Clock = deps.Clock
	}

	detector := security.NewDetector(deps.Logger)
	for _, cidr := range deps.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}

	s := &Server{
		limiter:  ratelimit.NewLimiter(deps.RateLimit),
		tracer:   trace.NewMiddleware(deps.Logger, detector.ExtractClientIP),
		detector: detector,
		ready:    deps.Ready,
	}

	r := chi.NewRouter()
	r.Use(s.tracer.Handler)
	r.Use(chimw.Recoverer)
	r.Use(detector.Handler)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Handler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path))
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware(detector.ExtractClientIP, ratelimit.Mutating, func(w http.ResponseWriter, r *http.Request) {
			applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
				applog.FieldClientIP, detector.ExtractClientIP(r),
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded. Please try again later.")
		}))

		local := &localHandlers{store: deps.Store, backups: deps.Backups, clock: deps.Clock}
		r.Mount("/local", local.Routes())

		backups := &backupHandlers{backups: deps.Backups, auth: deps.Auth, settings: deps.Settings}
		r.Mount("/backup", backups.Routes())

		if deps.Expenses != nil {
			expenses := &expenseHandlers{repo: deps.Expenses}
			r.Mount("/expenses", expenses.Routes())
		}
	})

	// No WriteTimeout: POST /api/backup/auth waits for the user's consent.
	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

// Shutdown stops the rate limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

type healthResponse struct {
	Status    string                    `json:"status"`
	Requests  trace.Metrics             `json:"requests"`
	RateLimit ratelimit.Metrics         `json:"rateLimit"`
	Security  security.DetectionMetrics `json:"security"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:    "ok",
		Requests:  s.tracer.GetMetrics(),
		RateLimit: s.limiter.GetMetrics(),
		Security:  s.detector.GetMetrics(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", "error", err)
			writeError(w, r, http.StatusServiceUnavailable, "not_ready", "storage unavailable")
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}
