package snapview

import (
	"context"
	"time"

	"snap-gateway/internal/snap"
)

// MessageReader 讀取訊息的觀看參數，找不到時回傳 snap.ErrMessageNotFound.
type MessageReader interface {
	GetMessage(ctx context.Context, id string) (*snap.Message, error)
}

// MessageWriter 發送時建立訊息. 觀看參數沒有更新路徑.
type MessageWriter interface {
	CreateMessage(ctx context.Context, msg *snap.Message) error
}

// MembershipChecker 對話成員檢查.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Ledger 觀看帳本. 每個 (message, viewer) 各自一筆，彼此之間不需要鎖.
type Ledger interface {
	// GetRecord 找不到時回傳 snap.ErrRecordNotFound.
	GetRecord(ctx context.Context, key snap.ViewKey) (*snap.ViewRecord, error)

	// BeginFirstView 不存在時原子建立紀錄並回傳 created=true；
	// 已存在時不寫入任何欄位，回傳現有紀錄.
	BeginFirstView(ctx context.Context, key snap.ViewKey, now time.Time) (rec *snap.ViewRecord, created bool, err error)

	// ConsumeReplay 在 replay_count < maxReplays 時原子加一並更新 last_viewing_started_at.
	// 額度用盡回傳 snap.ErrReplayBudgetExhausted，紀錄不存在回傳 snap.ErrRecordNotFound.
	ConsumeReplay(ctx context.Context, key snap.ViewKey, maxReplays int, now time.Time) (*snap.ViewRecord, error)
}

// ScreenshotStore 截圖事件儲存.
type ScreenshotStore interface {
	RecordScreenshot(ctx context.Context, event *snap.ScreenshotEvent) error
	// ListForOwner 依 occurred_at 由新到舊列出寄件者的截圖事件.
	ListForOwner(ctx context.Context, ownerID string, unreadOnly bool, limit int, cursor string) (
		events []*snap.ScreenshotEvent, nextCursor string, hasMore bool, err error)
	// Acknowledge 標記已讀，只影響屬於 ownerID 且尚未已讀的事件，回傳實際更新筆數.
	Acknowledge(ctx context.Context, ownerID string, ids []string, at time.Time) (int, error)
}
