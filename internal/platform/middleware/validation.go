package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"snap-gateway/internal/snap"
)

// RequestSizeLimiter 限制請求體大小的中間件
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":      fmt.Sprintf("請求體過大，最大允許 %d 字節", maxSize),
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}
		// 未宣告長度（chunked）時由 MaxBytesReader 把關
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)

		c.Next()
	}
}

// ValidatePathID 驗證路由參數中的 ID
func ValidatePathID(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := snap.ValidateID(param, c.Param(param)); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":      err.Error(),
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}
		c.Next()
	}
}
