package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"snap-gateway/internal/platform/logger"
)

// 事件類型.
const (
	EventViewGranted        = "view_granted"
	EventViewDenied         = "view_denied"
	EventScreenshotRecorded = "screenshot_recorded"
	EventNotificationsAcked = "notifications_acknowledged"
	EventAuthentication     = "authentication"
	EventRateLimit          = "rate_limit"
	EventAccessDenied       = "access_denied"
)

// AuditService 審計服務
type AuditService struct {
	enabled bool
	sink    Sink
	now     func() time.Time
}

// Sink 審計事件輸出端.
type Sink interface {
	Write(ctx context.Context, event AuditEvent)
}

// NewAuditService 創建審計服務，事件預設寫入結構化日誌
func NewAuditService(enabled bool) *AuditService {
	return NewAuditServiceWithSink(enabled, loggerSink{})
}

// NewAuditServiceWithSink 使用指定輸出端創建審計服務
func NewAuditServiceWithSink(enabled bool, sink Sink) *AuditService {
	return &AuditService{
		enabled: enabled,
		sink:    sink,
		now:     time.Now,
	}
}

// AuditEvent 審計事件
type AuditEvent struct {
	Timestamp      time.Time              `json:"timestamp"`
	EventType      string                 `json:"event_type"`
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	MessageID      string                 `json:"message_id,omitempty"`
	Action         string                 `json:"action"`
	Result         string                 `json:"result"` // success, denied, failure, blocked
	Details        map[string]interface{} `json:"details,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
}

// ClientInfo 呼叫端資訊，由 HTTP 與 gRPC 中介層放入 context
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type clientInfoKey struct{}

// WithClientInfo 將呼叫端資訊放入 context
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFrom 從 context 取出呼叫端資訊
func ClientInfoFrom(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info, ok
}

// LogViewGranted 記錄觀看授權成功
func (a *AuditService) LogViewGranted(ctx context.Context, viewerID, conversationID, messageID, intent string, consumed bool, replayCount int) {
	if !a.IsEnabled() {
		return
	}

	a.emit(ctx, AuditEvent{
		EventType:      EventViewGranted,
		UserID:         viewerID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         intent,
		Result:         "success",
		Details: map[string]interface{}{
			"consumed":     consumed,
			"replay_count": replayCount,
		},
	})
}

// LogViewDenied 記錄觀看授權被拒
func (a *AuditService) LogViewDenied(ctx context.Context, viewerID, messageID, intent, reason string) {
	if !a.IsEnabled() {
		return
	}

	a.emit(ctx, AuditEvent{
		EventType: EventViewDenied,
		UserID:    viewerID,
		MessageID: messageID,
		Action:    intent,
		Result:    "denied",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogScreenshot 記錄截圖事件
func (a *AuditService) LogScreenshot(ctx context.Context, screenshotterID, conversationID, messageID, ownerID string, occurredAt time.Time) {
	if !a.IsEnabled() {
		return
	}

	a.emit(ctx, AuditEvent{
		EventType:      EventScreenshotRecorded,
		UserID:         screenshotterID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         "record_screenshot",
		Result:         "success",
		Details: map[string]interface{}{
			"owner_id":    ownerID,
			"occurred_at": occurredAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

// LogNotificationsAcknowledged 記錄寄件者已讀截圖通知
func (a *AuditService) LogNotificationsAcknowledged(ctx context.Context, ownerID string, count int) {
	if !a.IsEnabled() {
		return
	}

	a.emit(ctx, AuditEvent{
		EventType: EventNotificationsAcked,
		UserID:    ownerID,
		Action:    "acknowledge_notifications",
		Result:    "success",
		Details: map[string]interface{}{
			"count": count,
		},
	})
}

// LogAuthenticationFailure 記錄認證失敗
func (a *AuditService) LogAuthenticationFailure(ctx context.Context, userID, reason string) {
	if !a.IsEnabled() {
		return
	}

	a.emit(ctx, AuditEvent{
		EventType: EventAuthentication,
		UserID:    userID,
		Action:    "authenticate",
		Result:    "failure",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded 記錄速率限制超過
func (a *AuditService) LogRateLimitExceeded(ctx context.Context, ipAddress, endpoint string) {
	if !a.IsEnabled() {
		return
	}

	a.emit(ctx, AuditEvent{
		EventType: EventRateLimit,
		Action:    "api_request",
		Result:    "blocked",
		IPAddress: ipAddress,
		Details: map[string]interface{}{
			"endpoint": endpoint,
			"reason":   "rate_limit_exceeded",
		},
	})
}

// LogAccessDenied 記錄代替他人操作等越權請求
func (a *AuditService) LogAccessDenied(ctx context.Context, userID, messageID, reason string) {
	if !a.IsEnabled() {
		return
	}

	a.emit(ctx, AuditEvent{
		EventType: EventAccessDenied,
		UserID:    userID,
		MessageID: messageID,
		Action:    "access_resource",
		Result:    "denied",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// IsEnabled 檢查審計是否啟用，nil 視為停用
func (a *AuditService) IsEnabled() bool {
	return a != nil && a.enabled
}

func (a *AuditService) emit(ctx context.Context, event AuditEvent) {
	event.Timestamp = a.now().UTC()
	if info, ok := ClientInfoFrom(ctx); ok {
		if event.IPAddress == "" {
			event.IPAddress = info.IPAddress
		}
		event.UserAgent = info.UserAgent
	}
	a.sink.Write(ctx, event)
}

// loggerSink 將審計事件以 NOTICE 寫入結構化日誌
type loggerSink struct{}

func (loggerSink) Write(ctx context.Context, event AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error(ctx, "審計事件序列化失敗", logger.WithAction("audit"))
		return
	}

	var details map[string]interface{}
	_ = json.Unmarshal(data, &details)

	logger.Notice(ctx, "[AUDIT] "+event.EventType,
		logger.WithUserID(event.UserID),
		logger.WithConversationID(event.ConversationID),
		logger.WithMessageID(event.MessageID),
		logger.WithAction(event.Action),
		logger.WithDetails(details),
		logger.WithLabels(map[string]string{"audit": "true"}),
	)
}

// MemorySink 保存事件於記憶體，供測試與本地除錯使用
type MemorySink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (m *MemorySink) Write(_ context.Context, event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events 回傳目前收到的事件副本
func (m *MemorySink) Events() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}
