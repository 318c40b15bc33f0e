// Package snap 定義閱後即焚訊息的共用資料模型、原因碼與驗證規則.
package snap

import (
	"time"
)

// Kind 訊息類型.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindSnap   Kind = "snap"
	KindSystem Kind = "system"
)

// Valid 是否為已知類型.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindSnap, KindSystem:
		return true
	default:
		return false
	}
}

// Message 訊息中與觀看協定相關的欄位.
// ViewingDuration 與 MaxReplays 於發送時決定，之後不可變更.
type Message struct {
	ID              string     `json:"id"`
	ConversationID  string     `json:"conversation_id"`
	SenderID        string     `json:"sender_id"`
	Kind            Kind       `json:"kind"`
	ViewingDuration int        `json:"viewing_duration"` // 秒
	MaxReplays      int        `json:"max_replays"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// IsEphemeral snap 類型，或帶觀看參數的圖片/影片.
func (m *Message) IsEphemeral() bool {
	switch m.Kind {
	case KindSnap:
		return true
	case KindImage, KindVideo:
		return m.ViewingDuration > 0
	default:
		return false
	}
}

// Expired 當前時間超過 expires_at 即視為過期.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// Duration 觀看時長.
func (m *Message) Duration() time.Duration {
	return time.Duration(m.ViewingDuration) * time.Second
}

// ViewKey 觀看帳本的複合鍵，每個觀看者各自獨立.
type ViewKey struct {
	MessageID string `json:"message_id"`
	ViewerID  string `json:"viewer_id"`
}

func (k ViewKey) String() string {
	return k.MessageID + "/" + k.ViewerID
}

// ViewRecord 單一 (message, viewer) 的消耗狀態.
type ViewRecord struct {
	MessageID            string     `json:"message_id"`
	ViewerID             string     `json:"viewer_id"`
	FirstViewedAt        *time.Time `json:"first_viewed_at,omitempty"`
	ReplayCount          int        `json:"replay_count"`
	LastViewingStartedAt *time.Time `json:"last_viewing_started_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Key 帳本鍵.
func (r *ViewRecord) Key() ViewKey {
	return ViewKey{MessageID: r.MessageID, ViewerID: r.ViewerID}
}

// Viewed 是否已開始過首次觀看.
func (r *ViewRecord) Viewed() bool {
	return r != nil && r.FirstViewedAt != nil
}

// NewFirstView 建立首次觀看的帳本紀錄.
func NewFirstView(key ViewKey, now time.Time) *ViewRecord {
	now = now.UTC()
	return &ViewRecord{
		MessageID:            key.MessageID,
		ViewerID:             key.ViewerID,
		FirstViewedAt:        &now,
		LastViewingStartedAt: &now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// ScreenshotEvent 截圖事件，同一組 (message, viewer) 可有多筆.
type ScreenshotEvent struct {
	ID              string     `json:"id"`
	MessageID       string     `json:"message_id"`
	ConversationID  string     `json:"conversation_id"`
	OwnerID         string     `json:"owner_id"`
	ScreenshotterID string     `json:"screenshotter_id"`
	OccurredAt      time.Time  `json:"screenshot_at"`
	RecordedAt      time.Time  `json:"recorded_at"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
}

// Intent 授權意圖.
type Intent string

const (
	IntentInitialView Intent = "initial_view"
	IntentReplay      Intent = "replay"
)

// Valid 是否為已知意圖.
func (i Intent) Valid() bool {
	return i == IntentInitialView || i == IntentReplay
}

// Decision 授權結果.
// Consumed 為 false 且 Granted 為 true 時代表冪等重入，沒有消耗任何額度.
type Decision struct {
	Granted          bool          `json:"granted"`
	Reason           Reason        `json:"reason,omitempty"`
	Consumed         bool          `json:"consumed"`
	FirstView        bool          `json:"first_view"`
	ViewingDuration  int           `json:"viewing_duration"`
	ReplayCount      int           `json:"replay_count"`
	MaxReplays       int           `json:"max_replays"`
	RemainingReplays int           `json:"remaining_replays"`
	FirstViewedAt    *time.Time    `json:"first_viewed_at,omitempty"`
	SessionRemaining time.Duration `json:"session_remaining"`
}

// Deny 建立拒絕結果.
func Deny(reason Reason) Decision {
	return Decision{Granted: false, Reason: reason}
}

// RemainingReplays 剩餘重播次數，不會小於 0.
func RemainingReplays(maxReplays, replayCount int) int {
	if n := maxReplays - replayCount; n > 0 {
		return n
	}
	return 0
}

// Conversation 對話與成員，只用於收件人檢查.
type Conversation struct {
	ID        string    `json:"id"`
	MemberIDs []string  `json:"member_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember 是否為成員.
func (c *Conversation) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
