package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 64 << 10 // 64KB，觀看與截圖請求都很小
	DefaultRequestTimeout     = 30       // 秒
)

// 截圖通知分頁相關常數
const (
	DefaultNotificationPageSize = 20
	MaxNotificationPageSize     = 100
	MaxAcknowledgeBatch         = 100
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute    = 100
	DefaultViewRateLimit         = 60
	DefaultScreenshotRateLimit   = 30
	DefaultNotificationRateLimit = 60
	RateLimitCleanupIntervalMin  = 10 // 分鐘
)

// 觀看相關常數
const (
	DefaultAuthorizeTimeoutSeconds = 10
	DefaultScreenshotSkewSeconds   = 300
	ViewerEventBuffer              = 16
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 128
)

// 儲存相關常數
const (
	DefaultPostgresMaxOpenConns = 10
	DefaultPostgresMaxIdleConns = 5
	DefaultConnectTimeoutSecs   = 10
)
