package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/labrecord-api/internal/config"
	"github.com/noah-isme/labrecord-api/internal/database"
	"github.com/noah-isme/labrecord-api/internal/handler"
	"github.com/noah-isme/labrecord-api/internal/middleware"
	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/observability"
	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/repository"
	"github.com/noah-isme/labrecord-api/internal/router"
	"github.com/noah-isme/labrecord-api/internal/service"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.AppEnv == "production" {
		logger = logger.Level(zerolog.InfoLevel)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifeTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, database.RedisOptions{
			ClientName:  cfg.AppName,
			DialTimeout: cfg.RedisDialTimeout,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Close()
	}

	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos := repository.NewRepositories(db)
	tx := repository.NewTransactor(db)
	validate := validator.New(validator.WithRequiredStructEnabled())

	hub := realtime.NewHub(realtime.Options{
		Directory:    repos.Enrollments,
		Vivas:        repos.Vivas,
		Redis:        redisClient,
		NATS:         natsConn,
		ChannelBase:  cfg.RealtimeChannelBase,
		SendBuffer:   cfg.RealtimeSendBuffer,
		PingInterval: cfg.RealtimePingInterval,
		Logger:       logger,
	})
	if err := hub.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start realtime hub")
	}

	activityService := service.NewActivityService(repos.Activity, validate, logger)
	notificationService := service.NewNotificationService(repos.Notifications, hub, cfg.NotificationPageLimit, logger)
	assignmentService := service.NewAssignmentService(repos, tx, hub, activityService, validate, logger)
	submissionService := service.NewSubmissionService(repos, tx, hub, notificationService, activityService, validate, cfg.SubmissionRetries, logger)
	gradingService := service.NewGradingService(repos, tx, redisClient, service.ScaleSettings{
		Default:     cfg.DefaultGradeScale,
		CacheTTL:    cfg.GradeScaleCacheTTL,
		CachePrefix: cfg.RealtimeChannelBase,
	}, hub, notificationService, activityService, validate, logger)
	vivaService := service.NewVivaService(repos, tx, hub, notificationService, activityService, validate, cfg.VivaPlaceholders, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSAllowOrigins,
		AccessLog:    !cfg.Production(),
	})
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler:   handler.NewAssignmentHandler(assignmentService, logger),
		SubmissionHandler:   handler.NewSubmissionHandler(submissionService, logger),
		GradingHandler:      handler.NewGradingHandler(gradingService, logger),
		VivaHandler:         handler.NewVivaHandler(vivaService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger),
		ActivityHandler:     handler.NewActivityHandler(activityService, logger),
		RealtimeHandler:     handler.NewRealtimeHandler(ctx, hub, logger),
		Hub:                 hub,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		RateLimiter:         middleware.RateLimit("api", cfg.RateLimitMax, cfg.RateLimitWindow),
	})

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Str("node", hub.NodeID()).Msg("server listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(ctx, app, cfg, logger)
}

func waitForShutdown(ctx context.Context, app *fiber.App, cfg config.Config, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
