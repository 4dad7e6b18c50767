package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/showtime-reservations/internal/idempotency"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"github.com/robertarktes/showtime-reservations/internal/rateLimit"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Auth            *Authenticator
	RateLimiter     *rateLimit.RateLimiter
	Idempotency     *idempotency.Idempotency
	CallbackSecret  string
	HoldsPerUserMin int
	HoldsPerIPMin   int
}

func SetupRouter(h *Handlers, logger observability.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.With(SignatureMiddleware(cfg.CallbackSecret)).Post("/v1/payments/callback", h.PaymentCallback)

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Route("/v1/shows/{id}", func(r chi.Router) {
			r.With(
				IdempotencyMiddleware(cfg.Idempotency),
				RateLimitMiddleware(cfg.RateLimiter, cfg.HoldsPerUserMin, cfg.HoldsPerIPMin),
			).Post("/holds", h.HoldSeats)
			r.Delete("/holds", h.ReleaseSeats)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleVendor, RoleAdmin))
				r.Put("/schedule", h.ScheduleShow)
				r.Post("/cancel", h.CancelShow)
				r.Delete("/", h.DeleteShow)
			})
		})

		r.With(IdempotencyMiddleware(cfg.Idempotency)).Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Post("/v1/bookings/{id}/cancel", h.CancelBooking)
		r.Post("/v1/passes", h.ActivatePass)
	})

	return otelhttp.NewHandler(r, "showtime-api",
		otelhttp.WithFilter(func(req *http.Request) bool { return req.URL.Path != "/metrics" }),
	)
}
