package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"beyondink/internal/config"
	"beyondink/internal/handlers"
	"beyondink/internal/logging"
	"beyondink/internal/middleware"
	"beyondink/internal/models"
	"beyondink/internal/repositories"
	"beyondink/internal/services"
	"beyondink/internal/validation"
	"beyondink/pkg/mailer"
	"beyondink/pkg/rabbitmq"
	"beyondink/pkg/recaptcha"
	"beyondink/pkg/storage"
)

func main() {
	// --- Configuration ---
	v := config.NewViper()
	logging.Setup(logging.Config{Level: v.GetString("LOG_LEVEL"), Format: v.GetString("LOG_FORMAT")})

	cfg, err := config.Load(v)
	if err != nil {
		logging.Fatal("invalid configuration", "error", err)
	}

	rt, err := setup(cfg)
	if err != nil {
		logging.Fatal("failed to start", "error", err)
	}
	defer rt.close()

	// --- Session janitor ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.sessions.Run(ctx, time.Minute)

	// --- Start HTTP Server ---
	slog.Info("starting server", "addr", cfg.AppPort, "db_driver", cfg.DBDriver, "notify_transport", cfg.NotifyTransport)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := rt.app.Listen(cfg.AppPort); err != nil {
			logging.Fatal("server failed to start", "error", err)
		}
	}()

	<-quit
	slog.Info("shutting down server")

	if err := rt.app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("error during fiber shutdown", "error", err)
	}
	slog.Info("server gracefully stopped")
}

// runtime is the wired application plus what must be released on exit.
type runtime struct {
	app      *fiber.App
	sessions *services.SessionManager
	closers  []func() error
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("error during cleanup", "error", err)
		}
	}
}

// setup builds every collaborator from cfg and registers the routes.
func setup(cfg *config.Config) (*runtime, error) {
	rt := &runtime{}
	fail := func(err error) (*runtime, error) {
		rt.close()
		return nil, err
	}

	// --- Persistence ---
	repo, checks, err := openRepository(cfg, rt)
	if err != nil {
		return fail(err)
	}

	// --- Collaborators ---
	validator, err := validation.New()
	if err != nil {
		return fail(err)
	}
	verifier := recaptcha.NewClient(recaptcha.Config{
		Secret:    cfg.RecaptchaSecret,
		VerifyURL: cfg.RecaptchaVerifyURL,
		Timeout:   cfg.VerifyTimeout,
	})
	mail := mailer.NewClient(mailer.Config{
		APIKey:  cfg.ResendAPIKey,
		APIURL:  cfg.ResendAPIURL,
		Timeout: cfg.NotifyTimeout,
	})
	if !mail.Configured() {
		slog.Warn("RESEND_API_KEY is not set; notification emails will fail")
	}
	emails := services.NewEmailService(mail, cfg.FromEmail, cfg.ContactNotifyEmail)

	// --- Notifications ---
	var transport services.Transport = services.DirectTransport{Emails: emails}
	if cfg.NotifyTransport == "rabbitmq" {
		mqClient, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL, Queue: cfg.NotifyQueue})
		if err != nil {
			return fail(fmt.Errorf("failed to initialize RabbitMQ client: %w", err))
		}
		rt.closers = append(rt.closers, mqClient.Close)
		if err := mqClient.Consume(services.NotificationConsumer(emails, cfg.NotifyTimeout)); err != nil {
			return fail(fmt.Errorf("failed to start notification consumer: %w", err))
		}
		transport = services.QueueTransport{Publisher: mqClient}
	}

	// --- Storage ---
	var store storage.Store
	switch cfg.StorageDriver {
	case "supabase":
		store = storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.NotifyTimeout)
	default:
		store = storage.NewLocalStore(cfg.LocalStorageDir, cfg.LocalStorageURLPrefix)
	}

	// --- Services ---
	deps := services.PipelineDeps{
		Validator:      validator,
		Verifier:       verifier,
		Repository:     repo,
		Notifier:       services.NewDispatcher(transport, cfg.NotifyTimeout),
		References:     services.NewReferenceGenerator(cfg.BookingReferencePrefix),
		MinScore:       cfg.RecaptchaMinScore,
		VerifyTimeout:  cfg.VerifyTimeout,
		PersistTimeout: cfg.PersistTimeout,
	}
	factory := services.NewSessionFactory(services.FormSpecs(cfg), deps, func() *services.AssetUploader {
		return services.NewAssetUploader(store, cfg.StorageBucket, cfg.StorageFolder).
			WithLimits(cfg.MaxPendingAssets, cfg.MaxPendingAssetBytes)
	})
	rt.sessions = services.NewSessionManager(cfg.FormSessionSecret, cfg.FormSessionTTL, factory)

	// --- Fiber App ---
	app := fiber.New(fiber.Config{
		AppName:   "beyondink",
		BodyLimit: cfg.MaxUploadBytes * 5,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, " + middleware.SessionHeader,
	}))

	if cfg.StorageDriver == "local" {
		app.Static(cfg.LocalStorageURLPrefix, cfg.LocalStorageDir)
	}

	// --- API Routes ---
	apiV1 := app.Group("/api/v1")
	submitLimiter := newLimiter(cfg.SubmitRateLimit, "Too many submissions, please wait a minute")
	formLimiter := newLimiter(cfg.FormRateLimit, "Too many requests, please wait a minute")
	handlers.NewFormHandler(rt.sessions).WithOpenGuards(formLimiter).RegisterRoutes(apiV1, submitLimiter)
	handlers.NewAssetHandler(rt.sessions, cfg.MaxUploadBytes).RegisterRoutes(apiV1, formLimiter)
	handlers.NewFunctionsHandler(verifier, emails, cfg.NotifyTimeout).RegisterRoutes(apiV1, submitLimiter)

	// --- Health Check Endpoint ---
	handlers.NewHealthHandler(checks).RegisterRoutes(app)

	rt.app = app
	return rt, nil
}

// newLimiter allows limit requests per client IP per minute.
func newLimiter(limit int, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"message": message,
			})
		},
	})
}

// openRepository connects the configured database and migrates the
// submission tables. The memory driver keeps records in process.
func openRepository(cfg *config.Config, rt *runtime) (repositories.SubmissionRepository, map[string]handlers.HealthCheck, error) {
	checks := map[string]handlers.HealthCheck{}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "memory":
		slog.Warn("using in-memory submission store; records are lost on restart")
		return repositories.NewMockSubmissionRepository(), checks, nil
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseDSN)
	default:
		dialector = postgres.Open(cfg.DatabaseDSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	rt.closers = append(rt.closers, sqlDB.Close)

	err = repositories.Migrate(db, repositories.Collections{
		Contact:     cfg.Forms[models.FormContact].Collection,
		Booking:     cfg.Forms[models.FormBooking].Collection,
		MailingList: cfg.Forms[models.FormMailingList].Collection,
	})
	if err != nil {
		return nil, nil, err
	}

	checks["database"] = sqlDB.Ping
	return repositories.NewGORMSubmissionRepository(db), checks, nil
}
