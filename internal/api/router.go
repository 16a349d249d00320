// Package api provides the HTTP API of the prayer schedule service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/api/handler"
	"github.com/opentaqwa/opentaqwa/internal/api/middleware"
	"github.com/opentaqwa/opentaqwa/internal/api/models"
	"github.com/opentaqwa/opentaqwa/internal/api/response"
	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool

	Engine   handler.ScheduleEngine
	Fetcher  engine.ScheduleFetcher
	Registry *resilience.Registry

	// Clock and Location default to time.Now and time.Local.
	Clock    func() time.Time
	Location *time.Location
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "opentaqwa-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName, "/v1/ops/health", "/v1/ops/ready"))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Problem(w, r, models.ProblemTypeNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Problem(w, r, models.ProblemTypeNotFound, "method "+r.Method+" not allowed for "+r.URL.Path)
	})

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Engine:    cfg.Engine,
		Registry:  cfg.Registry,
		Clock:     cfg.Clock,
	})
	prayerHandler := handler.NewPrayerHandler(handler.PrayerConfig{
		Engine:   cfg.Engine,
		Fetcher:  cfg.Fetcher,
		Logger:   cfg.Logger,
		Clock:    cfg.Clock,
		Location: cfg.Location,
	})

	throttleLog := cfg.Logger.With().Str("component", "ratelimit").Logger()
	refreshLimit := middleware.Throttle(middleware.RefreshPolicy, throttleLog)
	timingsLimit := middleware.Throttle(middleware.TimingsPolicy, throttleLog)
	readLimit := middleware.Throttle(middleware.ReadPolicy, throttleLog)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(readLimit)
			r.Get("/schedule", prayerHandler.GetSchedule)
			r.Get("/next", prayerHandler.GetNext)
			r.Get("/stream", prayerHandler.Stream)
		})

		r.With(refreshLimit).Post("/schedule/refresh", prayerHandler.Refresh)

		// Ad-hoc lookups call the timings provider on every request.
		r.With(timingsLimit).Get("/timings", prayerHandler.GetTimings)
	})

	return r
}
