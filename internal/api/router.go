package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

type RouterConfig struct {
	Appointments   *appointment.Service
	Availability   *availability.Service
	Types          TypeAdmin
	Users          identity.Resolver
	TZ             *timezone.Normalizer
	PgPool         Pinger
	Redis          *redis.Client
	Gatherer       prometheus.Gatherer
	Logger         zerolog.Logger
	RequestTimeout time.Duration
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	tz := cfg.TZ
	if tz == nil {
		tz = timezone.NewNormalizer(0)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	appts := &appointmentHandlers{svc: cfg.Appointments, tz: tz, logger: cfg.Logger}
	providers := &providerHandlers{appointments: cfg.Appointments, availability: cfg.Availability, tz: tz, logger: cfg.Logger}
	types := &typeHandlers{types: cfg.Types, users: cfg.Users, logger: cfg.Logger}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(ActorMiddleware)

		// Appointment endpoints
		r.Post("/appointments", appts.create)
		r.Get("/appointments", appts.list)
		r.Get("/appointments/{id}", appts.get)
		r.Post("/appointments/{id}/confirm", appts.confirm)
		r.Post("/appointments/{id}/reschedule", appts.reschedule)
		r.Post("/appointments/{id}/cancel", appts.cancel)
		r.Post("/appointments/{id}/complete", appts.complete)
		r.Post("/appointments/{id}/no-show", appts.noShow)

		// Provider endpoints
		r.Get("/providers/{id}/slots", providers.slots)
		r.Get("/providers/{id}/availability", providers.listAvailability)
		r.Put("/providers/{id}/availability", providers.upsertAvailability)
		r.Delete("/providers/{id}/availability/{blockID}", providers.removeAvailability)

		// Appointment types
		if cfg.Types != nil {
			r.Get("/appointment-types/{id}", types.get)
			r.Post("/appointment-types/{id}/deactivate", types.deactivate)
		}
	})

	return r
}
