package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/conversia/backend/internal/config"
	"github.com/conversia/backend/internal/db"
	"github.com/conversia/backend/internal/http/handlers"
	"github.com/conversia/backend/internal/http/middleware"
	"github.com/conversia/backend/internal/presence"
	"github.com/conversia/backend/internal/routing"

	_ "github.com/conversia/backend/docs"
)

func Router(cfg config.Config, store *db.Store, ops *routing.Operations, distributor *routing.Distributor, tracker *presence.Tracker, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:                store,
		Ops:                  ops,
		Distributor:          distributor,
		Presence:             tracker,
		Validator:            validator.New(),
		Logger:               logger,
		DistributionInterval: cfg.DistributionInterval,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/conversations", h.ConversationsList)
		api.GET("/conversations/:id", h.ConversationDetails)
		api.GET("/queues", h.QueuesList)
		api.GET("/queues/:id", h.QueueDetails)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/conversations", h.Inbound)
		admin.POST("/conversations/:id/assign", h.Assign)
		admin.POST("/conversations/:id/accept", h.Accept)
		admin.POST("/conversations/:id/release", h.Release)
		admin.POST("/conversations/:id/reject", h.Reject)
		admin.POST("/conversations/:id/transfer", h.Transfer)
		admin.POST("/conversations/:id/takeover", h.Takeover)
		admin.POST("/conversations/:id/archive", h.Archive)
		admin.POST("/conversations/:id/reopen", h.Reopen)
		admin.POST("/bot/conversations/:id/claim", h.BotClaim)
		admin.PUT("/bot/conversations/:id/session", h.BotSessionUpdate)
		admin.DELETE("/bot/conversations/:id/session", h.BotSessionClear)
		admin.PUT("/advisors/:id/presence", h.PresenceUpdate)
		admin.POST("/admin/distributor/start", h.DistributorStart)
		admin.POST("/admin/distributor/stop", h.DistributorStop)
		admin.GET("/admin/distributor/status", h.DistributorStatus)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
