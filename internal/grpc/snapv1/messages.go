package snapv1

import (
	"time"

	"snap-gateway/internal/snap"
)

// CanViewSnapRequest 唯讀預檢. ViewerID 為空時使用已認證的呼叫者.
type CanViewSnapRequest struct {
	MessageID string `json:"message_id"`
	ViewerID  string `json:"viewer_id,omitempty"`
}

type CanViewSnapResponse struct {
	CanView         bool        `json:"can_view"`
	IsFirstView     bool        `json:"is_first_view"`
	ReplayCount     int         `json:"replay_count"`
	MaxReplays      int         `json:"max_replays"`
	ViewingDuration int         `json:"viewing_duration"`
	Error           snap.Reason `json:"error,omitempty"`
}

// RecordSnapViewRequest 授權並消耗一次觀看.
type RecordSnapViewRequest struct {
	MessageID        string    `json:"message_id"`
	ViewerID         string    `json:"viewer_id,omitempty"`
	ViewingStartedAt time.Time `json:"viewing_started_at"`
	IsReplay         bool      `json:"is_replay"`
}

// IncrementSnapReplayRequest 明確消耗一次重播額度.
type IncrementSnapReplayRequest struct {
	MessageID string `json:"message_id"`
	ViewerID  string `json:"viewer_id,omitempty"`
}

// ViewResponse RecordSnapView 與 IncrementSnapReplay 共用的回應.
// 業務拒絕時 Success 為 false、Error 帶原因碼，gRPC 狀態仍為 OK.
type ViewResponse struct {
	Success     bool          `json:"success"`
	ReplayCount int           `json:"replay_count"`
	CanReplay   bool          `json:"can_replay"`
	Error       snap.Reason   `json:"error,omitempty"`
	Decision    snap.Decision `json:"decision"`
}

type RecordSnapScreenshotRequest struct {
	MessageID           string    `json:"message_id"`
	ScreenshotterID     string    `json:"screenshotter_id,omitempty"`
	ScreenshotTimestamp time.Time `json:"screenshot_timestamp"`
}

type RecordSnapScreenshotResponse struct {
	Success          bool                  `json:"success"`
	NotificationSent bool                  `json:"notification_sent"`
	Event            *snap.ScreenshotEvent `json:"event,omitempty"`
}

type GetScreenshotNotificationsRequest struct {
	OwnerID    string `json:"owner_id,omitempty"`
	UnreadOnly bool   `json:"unread_only"`
	Limit      int    `json:"limit,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
}

type GetScreenshotNotificationsResponse struct {
	Notifications []*snap.ScreenshotEvent `json:"notifications"`
	NextCursor    string                  `json:"next_cursor,omitempty"`
	HasMore       bool                    `json:"has_more"`
}

type AcknowledgeScreenshotNotificationsRequest struct {
	OwnerID string   `json:"owner_id,omitempty"`
	IDs     []string `json:"ids"`
}

type AcknowledgeScreenshotNotificationsResponse struct {
	Acknowledged int `json:"acknowledged"`
}
