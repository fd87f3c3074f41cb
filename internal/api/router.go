package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"gateway-fleet-backend/internal/api/mw"
)

// NewRouter creates and configures a new Gin router.
//
// Versioned paths (/api/v1/...) are rewritten to their unversioned form
// before routing, so handlers only ever see /api/....
func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		if rest, ok := strings.CutPrefix(c.Request.URL.Path, "/api/v1/"); ok {
			c.Request.URL.Path = "/api/" + rest
			r.HandleContext(c)
			c.Abort()
		}
	})

	// Per-IP request throttle; burst of twice the sustained rate.
	rateLimiter := mw.RateLimiter(rate.Limit(h.cfg.Server.RateLimitPerSec), int(2*h.cfg.Server.RateLimitPerSec))

	// Config responses change rarely; cache them briefly.
	cacheTTL := time.Duration(h.cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	bearer := mw.BearerAuth(h.creds)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/activate", h.PostActivate)
		api.POST("/refresh", h.PostRefresh)

		authed := api.Group("")
		authed.Use(bearer)
		{
			authed.POST("/heartbeat", h.PostHeartbeat)
			authed.POST("/data", h.PostData)
			authed.GET("/config", caching, h.GetConfig)
			authed.POST("/tables/status", h.PostTableStatus)
			authed.POST("/tables/sync", h.PostTableSync)
			authed.POST("/commands", h.PostCommands)
		}

		// The live channel authenticates in-band with its first frame.
		api.GET("/ws", func(c *gin.Context) {
			h.hub.HandleConnection(c.Writer, c.Request)
		})

		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
