package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/availability"
	"github.com/hackgods/telehealth-scheduling/internal/chat"
)

type AppointmentService interface {
	Book(ctx context.Context, patient auth.Identity, req appointment.BookRequest) (*appointment.Appointment, error)
	Get(ctx context.Context, requester auth.Identity, id uuid.UUID) (*appointment.Detail, error)
	List(ctx context.Context, requester auth.Identity, filter appointment.ListFilter) ([]appointment.Detail, error)
	UpdateStatus(ctx context.Context, requester auth.Identity, id uuid.UUID, status string) (*appointment.Appointment, error)
	GenerateVideoLink(ctx context.Context, requester auth.Identity, id uuid.UUID) (*appointment.Appointment, error)
	VideoLinkQR(ctx context.Context, requester auth.Identity, id uuid.UUID, size int) ([]byte, error)
}

type AvailabilityService interface {
	AddSlot(ctx context.Context, doctor auth.Identity, start, end time.Time) (*availability.Slot, error)
	RemoveSlot(ctx context.Context, doctor auth.Identity, id uuid.UUID) error
	GetSlots(ctx context.Context, doctorID, startDate, endDate string) ([]availability.SlotView, error)
}

type MessageService interface {
	History(ctx context.Context, requester auth.Identity, appointmentID uuid.UUID) ([]chat.Message, error)
}

type RouterConfig struct {
	Appointments AppointmentService
	Availability AvailabilityService
	Messages     MessageService
	Verifier     *auth.Verifier
	Health       *HealthHandler
	// Realtime serves /ws; nil leaves the route unmounted.
	Realtime http.Handler

	Logger         zerolog.Logger
	CORSOrigins    []string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	if cfg.Realtime != nil {
		r.Handle("/ws", cfg.Realtime)
	}

	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	log := cfg.Logger

	r.Route("/api", func(r chi.Router) {
		r.Use(TimeoutMiddleware(cfg.RequestTimeout))

		r.Get("/availability/{id}", getSlotsHandler(cfg.Availability, log))

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Verifier))

			r.Route("/appointments", func(r chi.Router) {
				r.With(RequireRole(auth.RolePatient), limiter.Limit).
					Post("/", bookAppointmentHandler(cfg.Appointments, log))
				r.Get("/", listAppointmentsHandler(cfg.Appointments, log))
				r.Get("/{id}", getAppointmentHandler(cfg.Appointments, log))
				r.Put("/{id}", updateStatusHandler(cfg.Appointments, log))
				r.Post("/{id}/video", generateVideoLinkHandler(cfg.Appointments, log))
				r.Get("/{id}/video/qr", videoLinkQRHandler(cfg.Appointments, log))
			})

			r.With(RequireRole(auth.RoleDoctor)).
				Post("/availability", addSlotHandler(cfg.Availability, log))
			r.With(RequireRole(auth.RoleDoctor)).
				Delete("/availability/{id}", removeSlotHandler(cfg.Availability, log))

			r.Get("/messages/{appointmentId}", messageHistoryHandler(cfg.Messages, log))
		})
	})

	return withCORS(r, cfg.CORSOrigins)
}

func withCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})
	return c.Handler(h)
}
