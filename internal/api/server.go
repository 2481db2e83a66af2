package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/tom-gora/jsoon-bridge/internal/bridge"
	"github.com/tom-gora/jsoon-bridge/internal/events"
	"github.com/tom-gora/jsoon-bridge/internal/history"
)

// Invoker runs one worker invocation per call.
type Invoker interface {
	Invoke(ctx context.Context, in bridge.Input, opts bridge.Options) (*bridge.Result, error)
	Check() error
	WorkerPath() string
}

// HistoryReader serves past invocations.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Get(ctx context.Context, id string) (*history.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey guards /api/* and /events when set.
	APIKey        string
	MaxConcurrent int
	MaxBodyBytes  int64
	// Verbose is echoed in every invocation response.
	Verbose bool
	// RateLimit caps invocation requests per second. 0 disables it.
	RateLimit float64
	RateBurst int
	// ConfigPath and ConfigFingerprint are reported by /healthz.
	ConfigPath        string
	ConfigFingerprint string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	bridge    Invoker
	history   HistoryReader
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	semaphore chan struct{}
	inFlight  atomic.Int64
	limiter   *rate.Limiter
}

// New creates a new API server instance. history may be nil.
func New(config Config, b Invoker, hist HistoryReader, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 2 << 20
	}
	if hub == nil {
		hub = events.NewHub(events.DefaultCapacity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:    config,
		bridge:    b,
		history:   hist,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = max(1, int(config.RateLimit))
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server and blocks until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /events is long-lived and invocations are bounded
		// by the worker timeout.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/api", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.limitRate)
				r.Use(s.limitBody)
				r.Post("/process-text", s.handleProcessText)
				r.Post("/process-urls", s.handleProcessURLs)
				r.Post("/invoke", s.handleInvoke)
			})
			r.Get("/invocations", s.handleListInvocations)
			r.Get("/invocations/{id}", s.handleGetInvocation)
		})
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// limitBody caps request bodies at MaxBodyBytes.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// limitRate rejects invocation requests beyond the configured rate.
func (s *Server) limitRate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tryAcquire takes an invocation slot without waiting.
func (s *Server) tryAcquire() (release func(), ok bool) {
	select {
	case s.semaphore <- struct{}{}:
		s.inFlight.Add(1)
		return func() {
			s.inFlight.Add(-1)
			<-s.semaphore
		}, true
	default:
		return nil, false
	}
}
