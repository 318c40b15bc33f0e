package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"snap-gateway/internal/platform/middleware"
)

// OK 回傳 200 與資料.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       data,
		"request_id": middleware.GetRequestID(c),
	})
}

// Created 回傳 201 與資料.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"data":       data,
		"request_id": middleware.GetRequestID(c),
	})
}
