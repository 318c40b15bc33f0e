package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/platform/middleware"
	"snap-gateway/internal/snap"
)

// StatusForReason 拒絕原因對應的 HTTP 狀態碼.
func StatusForReason(reason snap.Reason) int {
	switch reason {
	case snap.ReasonExpired:
		return http.StatusGone
	case snap.ReasonNotAParticipant, snap.ReasonForbidden:
		return http.StatusForbidden
	case snap.ReasonNoReplaysRemaining:
		return http.StatusConflict
	case snap.ReasonNotFound:
		return http.StatusNotFound
	case snap.ReasonInvalidArgument:
		return http.StatusBadRequest
	case snap.ReasonTransientNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeForReason 拒絕原因對應的 API 錯誤代碼.
func CodeForReason(reason snap.Reason) int {
	switch reason {
	case snap.ReasonExpired:
		return ErrorCodeSnapExpired
	case snap.ReasonNotAParticipant:
		return ErrorCodeNotAParticipant
	case snap.ReasonForbidden:
		return ErrorCodeForbidden
	case snap.ReasonNoReplaysRemaining:
		return ErrorCodeNoReplaysRemaining
	case snap.ReasonNotFound:
		return ErrorCodeRecordNotFound
	case snap.ReasonInvalidArgument:
		return ErrorCodeInvalidParameter
	case snap.ReasonTransientNetwork:
		return ErrorCodeServiceUnavailable
	default:
		return ErrorCodeProcessingFailed
	}
}

// RespondError 依錯誤分類回應. 拒絕原因原樣回傳給客戶端，其餘錯誤走 SafeError.
func RespondError(c *gin.Context, err error) {
	reason := snap.ReasonOf(err)
	switch reason {
	case snap.ReasonInternal:
		SafeError(c, StatusForReason(reason), err, snap.UserMessage(reason))
		return
	case snap.ReasonTransientNetwork:
		logger.Warning(c.Request.Context(), fmt.Sprintf("API timeout: %v", err),
			logger.WithUserID(middleware.GetUserID(c)))
		Reject(c, reason, "")
		return
	}

	detail := snap.UserMessage(reason)
	var se *snap.Error
	if reason == snap.ReasonInvalidArgument && errors.As(err, &se) && se.Detail != "" {
		detail = se.Detail
	}
	Reject(c, reason, detail)
}

// Reject 回應拒絕原因.
func Reject(c *gin.Context, reason snap.Reason, message string) {
	if message == "" {
		message = snap.UserMessage(reason)
	}
	c.AbortWithStatusJSON(StatusForReason(reason), gin.H{
		"error":      message,
		"reason":     reason,
		"code":       CodeForReason(reason),
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

// RejectWithData 回應拒絕原因並附上呼叫結果（例如目前的重播次數）.
func RejectWithData(c *gin.Context, reason snap.Reason, data interface{}) {
	c.AbortWithStatusJSON(StatusForReason(reason), gin.H{
		"error":      snap.UserMessage(reason),
		"reason":     reason,
		"code":       CodeForReason(reason),
		"success":    false,
		"data":       data,
		"request_id": middleware.GetRequestID(c),
	})
}

// SafeError 安全的錯誤響應（不洩露內部信息）
func SafeError(c *gin.Context, statusCode int, err error, userMessage string) {
	requestID := middleware.GetRequestID(c)

	// 記錄真實錯誤到日誌（用於調試）
	logger.Error(c.Request.Context(), fmt.Sprintf("API Error: %v", err),
		logger.WithUserID(middleware.GetUserID(c)),
		logger.WithDetails(map[string]interface{}{
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"status":     statusCode,
		}))

	// 根據錯誤類型決定是否顯示詳情
	message := userMessage
	if shouldShowError(err) {
		message = err.Error()
	}

	reason := snap.ReasonOf(err)
	c.AbortWithStatusJSON(statusCode, gin.H{
		"error":      message,
		"reason":     reason,
		"code":       CodeForReason(reason),
		"success":    false,
		"request_id": requestID, // 返回 request ID 便於追蹤
	})
}

// shouldShowError 判斷是否可以向用戶顯示錯誤詳情
func shouldShowError(err error) bool {
	if err == nil {
		return false
	}

	// 不應顯示的錯誤關鍵字（可能洩露敏感信息）
	dangerousKeywords := []string{
		"mongo",
		"postgres",
		"pgx",
		"sql",
		"dynamo",
		"redis",
		"database",
		"connection",
		"password",
		"token",
		"secret",
		"credential",
		"grpc",
		"internal",
		"stack",
		"panic",
		"ledger",
	}

	lowerMsg := strings.ToLower(err.Error())
	for _, keyword := range dangerousKeywords {
		if strings.Contains(lowerMsg, keyword) {
			return false
		}
	}

	return true
}

// BadRequest 錯誤的請求
func BadRequest(c *gin.Context, message string) {
	Reject(c, snap.ReasonInvalidArgument, message)
}

// Forbidden 代替他人操作
func Forbidden(c *gin.Context, message string) {
	if message == "" {
		message = "禁止代替其他使用者操作"
	}
	Reject(c, snap.ReasonForbidden, message)
}
