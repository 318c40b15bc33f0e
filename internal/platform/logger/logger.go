// Package logger 輸出 GCP Cloud Logging 格式的 JSON 日誌，同時寫入控制台與輪轉檔案.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"

	"snap-gateway/internal/platform/config"
)

// Severity GCP Cloud Logging 嚴重級別
type Severity string

const (
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityNotice  Severity = "NOTICE"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

var severityRank = map[Severity]int{
	SeverityDebug:   100,
	SeverityInfo:    200,
	SeverityNotice:  300,
	SeverityWarning: 400,
	SeverityError:   500,
}

// ParseSeverity 不分大小寫解析級別，空字串或未知值回傳 false.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := severityRank[sev]
	return sev, ok
}

type traceIDKey struct{}

var (
	mu          sync.Mutex
	fileWriter  io.Writer
	stdout      io.Writer = os.Stdout
	minSeverity           = SeverityDebug
	projectID             = "local-dev"
	serviceName           = "snap-gateway"
)

// SetOutput 替換控制台輸出，傳入 io.Discard 可在測試中靜音.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	stdout = w
	mu.Unlock()
}

// SetLevel 設定最低輸出級別.
func SetLevel(sev Severity) {
	if _, ok := severityRank[sev]; !ok {
		return
	}
	mu.Lock()
	minSeverity = sev
	mu.Unlock()
}

// InitLogger 依設定初始化日誌. 設定需先載入；未載入時使用預設值.
func InitLogger() error {
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		projectID = v
	}
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		serviceName = v
	}

	rotationTime, maxAge, maxSize := 24, 30, 100
	logDir := os.Getenv("LOG_PATH")
	if cfg := config.Get(); cfg != nil {
		if cfg.Log.Dir != "" {
			logDir = cfg.Log.Dir
		}
		if sev, ok := ParseSeverity(cfg.Log.Level); ok {
			SetLevel(sev)
		} else if !cfg.App.Debug {
			SetLevel(SeverityInfo)
		}
		if cfg.Log.RotationTimeHours > 0 {
			rotationTime = cfg.Log.RotationTimeHours
		}
		if cfg.Log.MaxAgeDays > 0 {
			maxAge = cfg.Log.MaxAgeDays
		}
		if cfg.Log.MaxSizeMB > 0 {
			maxSize = cfg.Log.MaxSizeMB
		}
	}
	if logDir == "" {
		logDir = "./logs"
	}
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return err
	}

	logFileName := filepath.Join(logDir, "snap-gateway.log")
	writer, err := rotatelogs.New(
		logFileName+".%Y%m%d",
		rotatelogs.WithLinkName(logFileName),
		rotatelogs.WithRotationTime(time.Duration(rotationTime)*time.Hour),
		rotatelogs.WithMaxAge(time.Duration(maxAge)*24*time.Hour),
		rotatelogs.WithRotationSize(int64(maxSize)*1024*1024),
	)
	if err != nil {
		return err
	}

	mu.Lock()
	fileWriter = writer
	mu.Unlock()
	return nil
}

// CloseLogger 關閉日誌檔案
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()
	if closer, ok := fileWriter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}
	fileWriter = nil
}

// enabled 低於最低級別的日誌直接丟棄.
func enabled(sev Severity) bool {
	mu.Lock()
	defer mu.Unlock()
	return severityRank[sev] >= severityRank[minSeverity]
}

// writeLog 整行寫入，多個 goroutine 同時記錄時不會交錯.
func writeLog(entry *LogEntry) {
	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}
	line = append(line, '\n')

	mu.Lock()
	defer mu.Unlock()
	if fileWriter != nil {
		_, _ = fileWriter.Write(line)
	}
	_, _ = stdout.Write(line)
}

func sourceLocation(skip int) *SourceLocation {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return nil
	}
	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = fn.Name()
	}
	return &SourceLocation{
		File:     filepath.Base(file),
		Line:     int64(line),
		Function: funcName,
	}
}

// GetTraceID 從 context 獲取 GCP 格式的 trace ID
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceIDKey{}).(string)
	if traceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", projectID, traceID)
}

// WithTraceID 將 trace ID 添加到 context，HTTP 請求以 request ID 作為 trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// Log 通用日誌方法
func Log(ctx context.Context, severity Severity, message string, opts ...LogOption) {
	logAt(ctx, 3, severity, message, opts...)
}

func logAt(ctx context.Context, skip int, severity Severity, message string, opts ...LogOption) {
	if !enabled(severity) {
		return
	}
	entry := &LogEntry{
		Severity:       severity,
		Message:        message,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:        GetTraceID(ctx),
		SourceLocation: sourceLocation(skip),
		InsertID:       uuid.New().String(),
		Labels:         map[string]string{"service": serviceName},
	}
	for _, opt := range opts {
		opt(entry)
	}
	writeLog(entry)
}

// Debug 記錄 DEBUG 級別日誌
func Debug(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityDebug, message, opts...)
}

// Info 記錄 INFO 級別日誌
func Info(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityInfo, message, opts...)
}

// Notice 記錄 NOTICE 級別日誌，稽核事件使用.
func Notice(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityNotice, message, opts...)
}

// Warning 記錄 WARNING 級別日誌
func Warning(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityWarning, message, opts...)
}

// Error 記錄 ERROR 級別日誌
func Error(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityError, message, opts...)
}

// Infof 格式化 INFO 日誌
func Infof(ctx context.Context, format string, args ...interface{}) {
	logAt(ctx, 3, SeverityInfo, fmt.Sprintf(format, args...))
}

// Errorf 格式化 ERROR 日誌
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logAt(ctx, 3, SeverityError, fmt.Sprintf(format, args...))
}
