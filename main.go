package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"orderdesk/internal/config"
	"orderdesk/internal/directory"
	"orderdesk/internal/handlers"
	"orderdesk/internal/models"
	"orderdesk/internal/repositories"
	"orderdesk/internal/services"
	"orderdesk/pkg/rabbitmq"
)

// NewApp wires the full application onto a Fiber app. publisher may be nil
// when no message broker is available; registration then runs without event
// publication.
func NewApp(cfg *config.Config, logger *zap.Logger, db *gorm.DB, publisher services.OrderEventPublisher) *fiber.App {
	directoryClient := directory.NewHTTPClient(cfg.Directory, logger)
	customerValidator := services.NewDirectoryCustomerValidator(directoryClient, cfg.Orders.TotalCeiling, logger)

	storeFactory := repositories.NewGormStoreFactory(db, logger)
	retryPolicy := repositories.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff,
		Logger:      logger,
	}

	orderService := services.NewOrderService(storeFactory, customerValidator, retryPolicy, publisher, logger)
	orderHandler := handlers.NewOrderHandler(orderService, logger)

	app := fiber.New()
	app.Use(fiberlogger.New())

	apiV1 := app.Group("/api/v1")
	orderHandler.RegisterRoutes(apiV1)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return app
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The zap logger is configured from the same config, so a plain
		// fatal is all that is available this early.
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(&models.OrderHeader{}, &models.OrderLine{}, &models.AuditEvent{}); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// The broker is optional at runtime: registration must not depend on it,
	// so a failed connection degrades to running without event publication.
	var publisher services.OrderEventPublisher
	mqClient, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL}, logger)
	if err != nil {
		logger.Warn("RabbitMQ unavailable, continuing without event publication", zap.Error(err))
	} else {
		publisher = mqClient
		defer mqClient.Close()

		if consumerErr := mqClient.ConsumeOrderEvents(func(msg amqp.Delivery) error {
			logger.Info("received order event", zap.ByteString("body", msg.Body))
			return nil
		}); consumerErr != nil {
			logger.Warn("failed to start order event consumer", zap.Error(consumerErr))
		}
	}

	app := NewApp(cfg, logger, db, publisher)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", zap.String("port", cfg.AppPort))
		if err := app.Listen(cfg.AppPort); err != nil {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	if err := app.Shutdown(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
