package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"snap-gateway/internal/constants"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/security/audit"
)

// Limiter 固定時間窗口的計數限制.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimiter 行程內的速率限制器
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	rate     int           // 每個時間窗口允許的請求數
	window   time.Duration // 時間窗口
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// Visitor 訪問者信息
type Visitor struct {
	lastSeen  time.Time
	requests  int
	resetTime time.Time
}

// NewRateLimiter 創建新的速率限制器
// rate: 每個時間窗口允許的請求數
// window: 時間窗口（例如：time.Minute）
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*Visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	// 啟動清理 goroutine，定期清理過期的訪問者記錄
	go rl.cleanupVisitors(5*time.Minute, constants.RateLimitCleanupIntervalMin*time.Minute)

	return rl
}

// Allow 檢查是否允許請求
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	visitor, exists := rl.visitors[key]

	if !exists || now.After(visitor.resetTime) {
		rl.visitors[key] = &Visitor{
			lastSeen:  now,
			requests:  1,
			resetTime: now.Add(rl.window),
		}
		return rl.rate > 0, nil
	}

	visitor.lastSeen = now
	if visitor.requests >= rl.rate {
		return false, nil
	}
	visitor.requests++
	return true, nil
}

// Stop 停止背景清理.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanupVisitors 定期清理過期的訪問者記錄
func (rl *RateLimiter) cleanupVisitors(interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle(idle)
		}
	}
}

func (rl *RateLimiter) evictIdle(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, visitor := range rl.visitors {
		if now.Sub(visitor.lastSeen) > idle {
			delete(rl.visitors, key)
		}
	}
}

// RedisRateLimiter 以 Redis INCR + EXPIRE 實作跨實例共享的固定窗口限制.
type RedisRateLimiter struct {
	client redis.Cmdable
	prefix string
	rate   int
	window time.Duration
}

// NewRedisRateLimiter 創建 Redis 速率限制器
func NewRedisRateLimiter(client redis.Cmdable, prefix string, rate int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: prefix, rate: rate, window: window}
}

// Allow 同一窗口內的第一次 INCR 負責設定過期時間.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:%s:%s", r.prefix, key)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(r.rate), nil
}

// PerEndpointRateLimiter 為不同端點設置不同的速率限制
// 以路由樣板（例如 /api/v1/snaps/:message_id/views）區分端點.
type PerEndpointRateLimiter struct {
	limiters map[string]Limiter
	default_ Limiter
	audit    *audit.AuditService
}

// NewPerEndpointRateLimiter 創建端點級速率限制器
func NewPerEndpointRateLimiter(defaultLimiter Limiter, auditService *audit.AuditService) *PerEndpointRateLimiter {
	return &PerEndpointRateLimiter{
		limiters: make(map[string]Limiter),
		default_: defaultLimiter,
		audit:    auditService,
	}
}

// SetLimit 為特定端點設置限制
func (p *PerEndpointRateLimiter) SetLimit(route string, limiter Limiter) {
	p.limiters[route] = limiter
}

// Middleware 返回 Gin 中間件. 已認證的請求以使用者計數，否則以 IP.
// 後端錯誤時放行並記錄警告，觀看授權本身不依賴速率限制.
func (p *PerEndpointRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		limiter, exists := p.limiters[route]
		if !exists {
			limiter = p.default_
		}
		if limiter == nil {
			c.Next()
			return
		}

		ip := GetClientIP(c)
		key := ip
		if userID := GetUserID(c); userID != "" {
			key = "user:" + userID
		}

		ctx := c.Request.Context()
		allowed, err := limiter.Allow(ctx, route+"|"+key)
		if err != nil {
			logger.Warning(ctx, "速率限制後端錯誤，暫時放行",
				logger.WithAction("rate_limit"),
				logger.WithDetails(map[string]interface{}{"route": route}),
				logger.WithError(err))
			c.Next()
			return
		}
		if !allowed {
			p.audit.LogRateLimitExceeded(ctx, ip, route)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "請求過於頻繁，請稍後再試",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}

		c.Next()
	}
}
