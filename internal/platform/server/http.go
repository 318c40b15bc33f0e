package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"snap-gateway/internal/constants"
	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/health"
	"snap-gateway/internal/platform/middleware"
	"snap-gateway/internal/security/audit"
	"snap-gateway/internal/snapview"
)

// 路由樣板，同時作為端點級速率限制的 key.
const (
	routeCanView       = "/api/v1/snaps/:message_id/can-view"
	routeViews         = "/api/v1/snaps/:message_id/views"
	routeReplays       = "/api/v1/snaps/:message_id/replays"
	routeScreenshots   = "/api/v1/snaps/:message_id/screenshots"
	routeNotifications = "/api/v1/screenshots/notifications"
	routeAcknowledge   = "/api/v1/screenshots/notifications/ack"
)

// Dependencies 路由所需的服務.
type Dependencies struct {
	Service       *snapview.Service
	Authenticator *middleware.Authenticator
	Audit         *audit.AuditService
	Health        *health.Handler
	// Redis 速率限制後端為 redis 時使用.
	Redis redis.Cmdable
}

// allowedOrigins 允許的跨域來源（生產環境應該從配置文件讀取）
var allowedOrigins = map[string]bool{
	"http://localhost:3000": true, // 開發環境前端
	"http://localhost:8080": true, // 本地測試
	"http://127.0.0.1:8080": true,
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID")
		c.Header("Access-Control-Max-Age", "86400") // 預檢請求緩存 24 小時

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Router 設定路由
func Router(cfg *config.Config, deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 添加請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.SecurityHeaders())
	// 提取 IP、User-Agent
	r.Use(middleware.RequestMetadataMiddleware())
	r.Use(middleware.RequestLogger())

	maxBody := int64(constants.DefaultMaxRequestBodySize)
	if cfg.Limits.Request.MaxBodySize > 0 {
		maxBody = cfg.Limits.Request.MaxBodySize
	}
	r.Use(middleware.RequestSizeLimiter(maxBody))

	healthHandler := deps.Health
	if healthHandler == nil {
		healthHandler = health.NewHealthHandler()
	}
	r.GET("/health", healthHandler.HealthCheck)

	api := r.Group("/api/v1")
	api.Use(deps.Authenticator.GinMiddleware())
	// 速率限制在認證之後，才能以使用者計數
	if limiter := newRateLimiter(cfg.Limits.RateLimiting, deps); limiter != nil {
		api.Use(limiter.Middleware())
	}

	h := &snapHandler{svc: deps.Service, audit: deps.Audit}

	snaps := api.Group("/snaps/:message_id", middleware.ValidatePathID("message_id"))
	snaps.GET("/can-view", h.canView)
	snaps.POST("/views", h.recordView)
	snaps.POST("/replays", h.incrementReplay)
	snaps.POST("/screenshots", h.recordScreenshot)

	api.GET("/screenshots/notifications", h.listNotifications)
	api.POST("/screenshots/notifications/ack", h.acknowledgeNotifications)

	return r
}

// newRateLimiter 依設定建立端點級速率限制，停用時回傳 nil.
func newRateLimiter(cfg config.RateLimitingConfig, deps Dependencies) *middleware.PerEndpointRateLimiter {
	if !cfg.Enabled {
		return nil
	}

	useRedis := cfg.Backend == config.RateLimitBackendRedis && deps.Redis != nil
	limiterFor := func(name string, perMinute int) middleware.Limiter {
		if useRedis {
			return middleware.NewRedisRateLimiter(deps.Redis, name, perMinute, time.Minute)
		}
		return middleware.NewRateLimiter(perMinute, time.Minute)
	}

	defaultLimit := orDefault(cfg.DefaultPerMinute, constants.DefaultRateLimitPerMinute)
	views := limiterFor("views", orDefault(cfg.ViewsPerMinute, constants.DefaultViewRateLimit))
	screenshots := limiterFor("screenshots", orDefault(cfg.ScreenshotsPerMinute, constants.DefaultScreenshotRateLimit))
	notifications := limiterFor("notifications", orDefault(cfg.NotificationsPerMinute, constants.DefaultNotificationRateLimit))

	rl := middleware.NewPerEndpointRateLimiter(limiterFor("default", defaultLimit), deps.Audit)
	rl.SetLimit(routeCanView, views)
	rl.SetLimit(routeViews, views)
	rl.SetLimit(routeReplays, views)
	rl.SetLimit(routeScreenshots, screenshots)
	rl.SetLimit(routeNotifications, notifications)
	rl.SetLimit(routeAcknowledge, notifications)
	return rl
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
