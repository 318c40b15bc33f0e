package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/logger"
)

const (
	// 健康狀態常數.
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusWarning   = "warning"
	statusDegraded  = "degraded"

	// 記憶體相關常數.
	memoryMB        = 1024 * 1024
	memoryThreshold = 1024 // 1GB

	// 超時常數.
	dbTimeout = 5 * time.Second
)

// Check 一個外部依賴的連線檢查.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler 健康檢查處理器.
type Handler struct {
	checks []Check
}

// NewHealthHandler 創建新的健康檢查處理器.
func NewHealthHandler(checks ...Check) *Handler {
	return &Handler{checks: checks}
}

// HealthCheck 健康檢查端點.
func (h *Handler) HealthCheck(c *gin.Context) {
	overall := statusHealthy
	dependencies := gin.H{}

	for _, check := range h.checks {
		if err := h.ping(c.Request.Context(), check); err != nil {
			overall = statusDegraded
			dependencies[check.Name] = gin.H{"status": statusUnhealthy, "error": err.Error()}
			logger.Error(c.Request.Context(), fmt.Sprintf("健康檢查 - %s 連線失敗: %v", check.Name, err))
			continue
		}
		dependencies[check.Name] = gin.H{"status": statusHealthy}
	}

	// 檢查系統資源.
	systemStatus := h.checkSystemResources()

	// 從環境變數讀取版本，沒有則用設定值
	appName, appVersion, debug := "", os.Getenv("APP_VERSION"), false
	if cfg := config.Get(); cfg != nil {
		appName = cfg.App.Name
		debug = cfg.App.Debug
		if appVersion == "" {
			appVersion = cfg.App.Version
		}
	}
	if appVersion == "" {
		appVersion = "NO_VERSION_SET"
	}

	// 依賴不健康時整體為 degraded，仍回傳 200 讓監控系統知道服務本身是正常的.
	c.JSON(http.StatusOK, gin.H{
		"status":    overall,
		"timestamp": time.Now().Unix(),
		"app": gin.H{
			"name":    appName,
			"version": appVersion,
			"debug":   debug,
		},
		"dependencies": dependencies,
		"system": gin.H{
			"status":  systemStatus.Status,
			"details": systemStatus.Details,
			"uptime":  time.Since(startTime).String(),
		},
	})
}

func (h *Handler) ping(ctx context.Context, check Check) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	if check.Ping == nil {
		return fmt.Errorf("%s connection not available", check.Name)
	}
	return check.Ping(ctx)
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details"`
}

// checkSystemResources 檢查系統資源.
func (h *Handler) checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":       fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"total_alloc": fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/memoryMB),
			"sys":         fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc":      m.NumGC,
		},
		"cpu": gin.H{
			"num_cpu": runtime.NumCPU(),
		},
	}

	// 檢查記憶體使用是否過高（超過 1GB 視為警告）
	status := statusHealthy
	if m.Sys/memoryMB > memoryThreshold {
		status = statusWarning
		details["memory_warning"] = "Memory usage is high"
	}

	return SystemStatus{
		Status:  status,
		Details: details,
	}
}

// 記錄服務啟動時間.
var startTime = time.Now()
