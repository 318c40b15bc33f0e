package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"snap-gateway/internal/platform/logger"
)

// RequestLogger 以 GCP httpRequest 格式記錄每個請求
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		req := &logger.HTTPRequest{
			RequestMethod: c.Request.Method,
			RequestURL:    c.Request.URL.Path,
			Status:        status,
			UserAgent:     c.Request.UserAgent(),
			RemoteIP:      GetClientIP(c),
			Latency:       fmt.Sprintf("%.6fs", time.Since(start).Seconds()),
			RequestSize:   c.Request.ContentLength,
			ResponseSize:  int64(c.Writer.Size()),
			Protocol:      c.Request.Proto,
		}
		opts := []logger.LogOption{logger.WithHTTPRequest(req), logger.WithUserID(GetUserID(c))}

		msg := fmt.Sprintf("%s %s %d", c.Request.Method, c.FullPath(), status)
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error(c.Request.Context(), msg, opts...)
		case status >= http.StatusBadRequest:
			logger.Warning(c.Request.Context(), msg, opts...)
		default:
			logger.Info(c.Request.Context(), msg, opts...)
		}
	}
}

// SecurityHeaders 添加安全標頭
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")
		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Referrer-Policy", "no-referrer")
		// 觀看狀態不可被中間代理快取
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}
