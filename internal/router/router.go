package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront-auth/internal/config"
	"storefront-auth/internal/handler"
	"storefront-auth/internal/metrics"
	"storefront-auth/internal/middleware"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	Audit  *handler.AuditHandler
	Health *handler.HealthHandler
}

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	handlers Handlers,
	m *metrics.Metrics,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	if m != nil {
		r.Use(m.Instrument)
	}
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", handlers.Health.Health)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/signup", handlers.Auth.Signup)
			auth.Post("/login", handlers.Auth.Login)
			auth.Post("/logout", handlers.Auth.Logout)
			auth.Post("/refresh-token", handlers.Auth.RefreshToken)
			auth.Get("/verify-email/{token}", handlers.Auth.VerifyEmail)
			auth.Post("/forgot-password", handlers.Auth.ForgotPassword)
			auth.Post("/reset-password/{token}", handlers.Auth.ResetPassword)

			auth.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)
				protected.Get("/profile", handlers.Auth.Profile)
				protected.Patch("/profile", handlers.Auth.UpdateProfile)
				protected.Group(func(admin chi.Router) {
					admin.Use(authMiddleware.RequireAdmin)
					admin.Get("/admin/ping", handlers.Auth.AdminPing)
					if handlers.Audit != nil {
						admin.Get("/admin/events", handlers.Audit.List)
					}
				})
			})
		})
	})

	return r
}
