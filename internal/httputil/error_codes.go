package httputil

// API 錯誤代碼常數.
const (
	// 1000-1999: 認證相關錯誤 (401 Unauthorized).
	ErrorCodeMissingAuthHeader = 1001
	ErrorCodeInvalidAuthFormat = 1002
	ErrorCodeInvalidAuthHeader = 1003

	// 2000-2999: 參數相關錯誤 (400 Bad Request).
	ErrorCodeInvalidParameter = 2001
	ErrorCodeInvalidCursor    = 2002

	// 3000-3999: 權限相關錯誤 (403 Forbidden).
	ErrorCodeNotAParticipant = 3001
	ErrorCodeForbidden       = 3002

	// 4000-4999: 資源狀態相關錯誤 (404 / 409 / 410).
	ErrorCodeRecordNotFound     = 4001
	ErrorCodeSnapExpired        = 4002
	ErrorCodeNoReplaysRemaining = 4003

	// 5000-5999: 處理相關錯誤 (500 / 503).
	ErrorCodeProcessingFailed   = 5001
	ErrorCodeServiceUnavailable = 5003
)
