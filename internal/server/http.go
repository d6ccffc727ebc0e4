package server

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/optimo/bridgebroker/internal/cache"
	"github.com/optimo/bridgebroker/internal/config"
	"github.com/optimo/bridgebroker/internal/database"
	"github.com/optimo/bridgebroker/internal/migrations"
	"github.com/optimo/bridgebroker/internal/secrets"
	"github.com/optimo/bridgebroker/internal/utils"
)

// Start initializes logging, connects to the database and Redis, runs
// migrations, builds the Fiber app with its middleware and routes, and
// starts listening on the configured address.
func Start(cfg *config.Config, codec *secrets.Codec) error {
	initLogger(cfg.Logging.Level)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024, // 10MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var apiErr *utils.APIError
			if errors.As(err, &apiErr) {
				return utils.ErrorResponse(c, apiErr)
			}

			var e *fiber.Error
			if errors.As(err, &e) {
				return utils.ErrorResponse(c, utils.NewAPIError(
					"HTTP_ERROR",
					e.Message,
					e.Code,
				))
			}

			return utils.ErrorResponse(c, utils.ErrInternalServer)
		},
	})

	app.Use(helmet.New())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.RateLimit.Max,
		Expiration: time.Duration(cfg.Server.RateLimit.Expiration) * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.ErrorResponse(c, utils.NewAPIError(
				"TOO_MANY_REQUESTS",
				"Too many requests, please try again later.",
				fiber.StatusTooManyRequests,
			))
		},
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowMethods: "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
		MaxAge:       3600,
	}))

	db, err := database.Connect(&cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return err
	}
	slog.Info("Database connected successfully")

	if err := migrations.Run(&cfg.Database); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return err
	}

	redisClient, err := cache.Connect(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		return err
	}

	SetupRoutes(app, cfg, db, redisClient, codec)

	addr := cfg.Server.Address()
	slog.Info("Server starting", "address", addr, "app", cfg.App.Name)
	if err := app.Listen(addr); err != nil {
		slog.Error("Failed to start server", "error", err)
		return err
	}

	return nil
}

func initLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(handler))
}
