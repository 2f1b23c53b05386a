// Package app wires the HTTP routes of the relay service.
package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"

	"ghostwriter-relay/internal/auth"
	"ghostwriter-relay/internal/autocomplete"
	"ghostwriter-relay/internal/config"
	"ghostwriter-relay/internal/llm"
	"ghostwriter-relay/internal/metrics"
	"ghostwriter-relay/internal/prompt"
)

// Options carries everything the application needs. Providers are passed in
// so tests can substitute fakes.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Prompts prompt.Set
	// Hosted and Local back /api/gpt and /api/llama respectively.
	Hosted llm.Provider
	Local  llm.Provider
}

// App represents the main application with its router and authentication service.
type App struct {
	Router chi.Router
	Auth   *auth.Service
	Relay  *autocomplete.Relay

	opts   Options
	logger *slog.Logger
}

// NewApp creates and initializes a new instance of the App struct.
func NewApp(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := opts.Config

	a := &App{
		Router: chi.NewRouter(),
		Auth:   auth.NewService(cfg.Auth, opts.Logger.With("component", "auth"), opts.Metrics),
		Relay: autocomplete.NewRelay(autocomplete.RelayConfig{
			Prompts:     opts.Prompts,
			Logger:      opts.Logger.With("component", "relay"),
			Metrics:     opts.Metrics,
			Tracer:      opts.Tracer,
			MaxDuration: cfg.MaxStreamDuration,
		}),
		opts:   opts,
		logger: opts.Logger,
	}

	a.initializeRoutes()
	return a
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.Router.ServeHTTP(w, r)
}

func (a *App) initializeRoutes() {
	r := a.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{a.opts.Config.CORSOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", a.handleHealth)
	r.Handle("/metrics", a.opts.Metrics.Handler())
	r.Post("/api/auth/login", a.Auth.LoginHandler)

	validator := autocomplete.NewValidator(a.opts.Config.ContextWindowSize)
	r.Group(func(r chi.Router) {
		r.Use(a.Auth.Middleware)
		r.Method(http.MethodPost, "/api/gpt/autocomplete",
			autocomplete.NewHandler(a.Relay, validator, a.opts.Hosted, a.logger, a.opts.Metrics))
		r.Method(http.MethodPost, "/api/llama/autocomplete",
			autocomplete.NewHandler(a.Relay, validator, a.opts.Local, a.logger, a.opts.Metrics))
	})
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string   `json:"status"`
	Providers []string `json:"providers"`
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    "ok",
		Providers: []string{a.opts.Hosted.Name(), a.opts.Local.Name()},
	})
}

// requestLogger logs one line per request once the handler returns. For
// streamed completions that is when the stream ends.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"remote", r.RemoteAddr,
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
