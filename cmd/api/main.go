package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	webhookcontrollers "github.com/angelmondragon/pointbank-backend/api/controllers/webhooks"
	"github.com/angelmondragon/pointbank-backend/api/routes"
	"github.com/angelmondragon/pointbank-backend/internal/attendance"
	"github.com/angelmondragon/pointbank-backend/internal/points"
	squarewebhook "github.com/angelmondragon/pointbank-backend/internal/webhooks/square"
	"github.com/angelmondragon/pointbank-backend/pkg/config"
	"github.com/angelmondragon/pointbank-backend/pkg/db"
	"github.com/angelmondragon/pointbank-backend/pkg/logger"
	"github.com/angelmondragon/pointbank-backend/pkg/migrate"
	"github.com/angelmondragon/pointbank-backend/pkg/outbox"
	"github.com/angelmondragon/pointbank-backend/pkg/redis"
	"github.com/angelmondragon/pointbank-backend/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var outboxService *outbox.Service
	if cfg.Eventing.Enabled {
		outboxService = outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	}

	pointsService, err := points.NewService(points.Params{
		Repo:              points.NewRepository(dbClient.DB()),
		Tx:                dbClient,
		Outbox:            outboxService,
		EventingEnabled:   cfg.Eventing.Enabled,
		ConsumeMaxRetries: cfg.Points.ConsumeMaxRetries,
		ExpiryMonths:      cfg.Points.ExpiryMonths,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create points service", err)
		os.Exit(1)
	}

	attendanceService, err := attendance.NewService(attendance.Params{
		Points:  pointsService,
		Summary: points.NewRepository(dbClient.DB()),
		Amount:  cfg.Points.AttendanceAmount,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create attendance service", err)
		os.Exit(1)
	}

	var webhookService webhookcontrollers.SquareWebhookService
	var squareSecrets webhookcontrollers.SquareSecretProvider
	var webhookGuard webhookcontrollers.SquareWebhookGuard
	if cfg.Square.AccessToken != "" {
		squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create square client", err)
			os.Exit(1)
		}
		service, err := squarewebhook.NewService(squarewebhook.ServiceParams{
			SquareClient:  squareClient,
			Points:        pointsService,
			CentsPerPoint: cfg.Points.PurchaseCentsPerPoint,
			Logger:        logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create square webhook service", err)
			os.Exit(1)
		}
		guard, err := squarewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL, "square-webhook")
		if err != nil {
			logg.Error(context.Background(), "failed to create square webhook guard", err)
			os.Exit(1)
		}
		webhookService = service
		squareSecrets = squareClient
		webhookGuard = guard
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, pointsService, attendanceService, webhookService, squareSecrets, webhookGuard),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
