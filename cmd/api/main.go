package main

import (
	"context"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/adeline-api/internal/config"
	"github.com/noah-isme/adeline-api/internal/database"
	"github.com/noah-isme/adeline-api/internal/handler"
	"github.com/noah-isme/adeline-api/internal/middleware"
	"github.com/noah-isme/adeline-api/internal/models"
	"github.com/noah-isme/adeline-api/internal/repository"
	"github.com/noah-isme/adeline-api/internal/router"
	"github.com/noah-isme/adeline-api/internal/service"
	"github.com/noah-isme/adeline-api/pkg/ai"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if !cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	logger = logger.With().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := db.AutoMigrate(&models.Question{}, &models.AssessmentSession{}, &models.AssessmentResponse{}, &models.AssessmentEvent{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Redis and NATS are optional: without them the report cache and event fan-out are skipped.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, report cache disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, completion events only go to redis")
			natsConn = nil
		} else {
			defer natsConn.Close()
		}
	}

	planner, err := ai.NewGenerator(ai.ProviderConfig{
		Provider:        cfg.AIProvider,
		Model:           cfg.AIModel,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure text generation")
	}
	if planner == nil {
		logger.Warn().Str("provider", cfg.AIProvider).Msg("no text generation credentials, remediation plans will use the placeholder")
	}

	validate := newValidator()

	questionRepo := repository.NewQuestionRepository(db, cfg.StorageTimeout)
	sessionRepo := repository.NewAssessmentSessionRepository(db, cfg.StorageTimeout)
	responseRepo := repository.NewAssessmentResponseRepository(db, cfg.StorageTimeout)
	eventRepo := repository.NewAssessmentEventRepository(db, cfg.StorageTimeout)

	assessmentService := service.NewAssessmentService(service.AssessmentDependencies{
		Questions: questionRepo,
		Sessions:  sessionRepo,
		Responses: responseRepo,
		Events:    eventRepo,
		Planner:   planner,
		Publisher: service.NewEventPublisher(redisClient, natsConn, cfg.EventsChannel, logger),
		Cache:     redisClient,
		Validator: validate,
		Config: service.AssessmentConfig{
			QuestionsPerSubject: cfg.QuestionsPerSubject,
			WarmupTurns:         cfg.WarmupTurns,
			RetestAfter:         cfg.RetestAfter,
			MaxCASRetries:       cfg.MaxCASRetries,
			DefaultGrade:        cfg.DefaultGrade,
			Difficulty:          cfg.Difficulty,
			ReportCacheTTL:      cfg.ReportCacheTTL,
			PlanTimeout:         cfg.AITimeout,
			Curriculum:          cfg.Curriculum,
		},
		Logger: logger,
	})
	seedService := service.NewSeedService(questionRepo, validate, cfg.SeedEnabled, cfg.SeedToken, logger)

	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AssessmentHandler: handler.NewAssessmentHandler(assessmentService, cfg.AnswerRateLimit, logger),
		SeedHandler:       handler.NewSeedHandler(seedService, logger),
		HealthProbes:      probes,
		JWTMiddleware:     middleware.JWTOptional(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)
}

// newValidator reports field errors under their json names.
func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return field.Name
	})
	return validate
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
