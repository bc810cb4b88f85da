package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service  *appointment.Service
	Verifier *auth.Verifier
	Realtime http.Handler // websocket endpoint, optional
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   *logrus.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)

	// Health and metrics endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler())

	h := &handlers{svc: cfg.Service, validate: NewValidator(), log: cfg.Logger}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Verifier))

		if cfg.Realtime != nil {
			r.Handle("/ws", cfg.Realtime)
		}

		// Appointment endpoints
		r.Post("/appointments", h.bookAppointment)
		r.Route("/appointments/{id}", func(r chi.Router) {
			r.Get("/", h.getAppointment)
			r.Get("/events", h.listAppointmentEvents)
			r.Post("/accept", h.transition((*appointment.Service).Accept))
			r.Post("/reject", h.rejectAppointment)
			r.Post("/check-in", h.transition((*appointment.Service).CheckIn))
			r.Post("/start", h.transition((*appointment.Service).Start))
			r.Post("/complete", h.completeAppointment)
			r.Post("/cancel", h.cancelAppointment)
			r.Post("/no-show", h.transition((*appointment.Service).MarkNoShow))
		})

		r.Get("/patients/{id}/appointments", h.listPatientAppointments)

		r.Get("/doctors/{id}/appointments", h.listDoctorAppointments)
		r.Get("/doctors/{id}/availability", h.doctorAvailability)
		r.Get("/doctors/{id}/queue", h.doctorQueue)
	})

	return r
}
