package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/optimo/bridgebroker/internal/cache"
	"github.com/optimo/bridgebroker/internal/config"
	"github.com/optimo/bridgebroker/internal/domain/bridge"
	"github.com/optimo/bridgebroker/internal/domain/session"
	"github.com/optimo/bridgebroker/internal/identity"
	"github.com/optimo/bridgebroker/internal/secrets"
)

// SetupRoutes wires repositories, services and handlers and registers
// the bridge routes under /v1.
//
// Session creation and revocation require the caller's own bearer
// token, verified against the identity provider. The proxy route is
// authenticated by the session ID alone: the opaque ID is the
// credential handed to the conversational agent's backend.
func SetupRoutes(app *fiber.App, cfg *config.Config, db *gorm.DB, redisClient *redis.Client, codec *secrets.Codec) {
	var revocations *cache.RevocationCache
	if redisClient != nil {
		revocations = cache.NewRevocationCache(redisClient)
	}

	sessionRepo := session.NewRepository(db)
	sessionService := session.NewServiceWithCache(sessionRepo, codec, revocations)

	provider := identity.NewClient(&cfg.Identity)
	proxy := bridge.NewProxy(sessionService, provider, revocations, &cfg.Bridge)
	handler := bridge.NewHandler(sessionService, proxy)

	api := app.Group("/v1")

	bridgeGroup := api.Group("/bridge")
	auth := identity.Middleware(provider)
	bridgeGroup.Post("/sessions", auth, handler.CreateSession)
	bridgeGroup.Delete("/sessions/:id", auth, handler.RevokeSession)
	bridgeGroup.All("/sessions/:id/proxy/*", handler.ProxyRequest)
}
