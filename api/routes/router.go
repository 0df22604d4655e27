package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pointbank-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/pointbank-backend/api/controllers/webhooks"
	"github.com/angelmondragon/pointbank-backend/api/middleware"
	"github.com/angelmondragon/pointbank-backend/internal/attendance"
	"github.com/angelmondragon/pointbank-backend/internal/points"
	"github.com/angelmondragon/pointbank-backend/pkg/config"
	"github.com/angelmondragon/pointbank-backend/pkg/db"
	"github.com/angelmondragon/pointbank-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/pointbank-backend/pkg/redis"
)

// NewRouter assembles the chi router with the full middleware chain.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *pkgredis.Client,
	pointsService points.Service,
	attendanceService attendance.Service,
	squareWebhookService webhookcontrollers.SquareWebhookService,
	squareClient webhookcontrollers.SquareSecretProvider,
	webhookGuard webhookcontrollers.SquareWebhookGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	consumePolicy := middleware.NewRateLimitPolicy("consume", time.Minute, 120, 60)

	var idemStore pkgredis.IdempotencyStore
	var limiterStore middleware.RateLimiterStore
	if redisClient != nil {
		idemStore = redisClient
		limiterStore = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Post("/validate", controllers.PublicValidate(logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(squareWebhookService, squareClient, webhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/points", func(r chi.Router) {
			r.Get("/balance", controllers.PointBalance(pointsService, logg))
			r.Get("/usage", controllers.PointUsageHistory(pointsService, logg))
			r.With(middleware.RateLimit(consumePolicy, limiterStore, logg)).
				Post("/consume", controllers.ConsumePoints(pointsService, logg))
		})

		r.Route("/attendance", func(r chi.Router) {
			r.Post("/check-in", controllers.AttendanceCheckIn(attendanceService, logg))
		})
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole("admin", logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Get("/ping", controllers.AdminPing())
		r.Route("/points", func(r chi.Router) {
			r.Post("/grant", controllers.AdminGrantPoints(pointsService, logg))
			r.Post("/cleanup-expired", controllers.AdminCleanupExpiredPoints(pointsService, logg))
			r.Get("/users/{userId}/balance", controllers.AdminUserPointBalance(pointsService, logg))
		})
	})

	return r
}
