package routes

import (
	"github.com/BradenHooton/thermo/internal/auth"
	"github.com/BradenHooton/thermo/internal/handlers"
	"github.com/BradenHooton/thermo/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Handlers groups every HTTP handler the API mounts.
type Handlers struct {
	Auth     *handlers.AuthHandler
	Readings *handlers.ReadingHandler
	Commands *handlers.CommandHandler
	Health   *handlers.HealthHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	tokens auth.TokenVerifier,
	registry auth.TokenLiveness,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Get("/", h.Health.Index)
	router.Get("/api/health", h.Health.Health)

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		r.Post("/api/signup", h.Auth.Signup)
		r.Post("/api/login", h.Auth.Login)
		r.Post("/api/rate-limit/reset", h.Auth.ResetRateLimit)
	})

	// Logout reads the bearer token itself so it can succeed without one.
	router.Post("/api/logout", h.Auth.Logout)

	router.With(
		auth.RequireRefreshToken(tokens, registry),
		middleware.CaptureUsername,
	).Post("/api/refresh-token", h.Auth.RefreshToken)

	// Protected routes - access token required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAccessToken(tokens, registry))
		r.Use(middleware.CaptureUsername)
		r.Use(middleware.RateLimitByUser(rateLimitConfig))

		r.Get("/api/readings", h.Readings.GetReadings)
		r.Post("/api/reading", h.Readings.CreateReading)
		r.Post("/api/arduino/{action}", h.Commands.Send)
	})
}
