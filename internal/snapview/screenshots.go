package snapview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"snap-gateway/internal/constants"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/snap"
)

func newEventID() string {
	return uuid.New().String()
}

// RecordScreenshot 記錄一次截圖. 同一觀看者可重複記錄，不去重.
func (s *Service) RecordScreenshot(ctx context.Context, messageID, screenshotterID string, occurredAt time.Time) (*snap.ScreenshotEvent, error) {
	if err := (snap.ViewKey{MessageID: messageID, ViewerID: screenshotterID}).Validate(); err != nil {
		return nil, err
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, snap.ErrMessageNotFound) {
		return nil, snap.Errorf(snap.ReasonNotFound, "message %s not found", messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}

	ok, err := s.isRecipient(ctx, msg, screenshotterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.audit.LogAccessDenied(ctx, screenshotterID, messageID, string(snap.ReasonNotAParticipant))
		return nil, snap.Errorf(snap.ReasonNotAParticipant, "user is not a recipient of message %s", messageID)
	}

	now := s.clock.Now().UTC()
	event := &snap.ScreenshotEvent{
		ID:              s.newID(),
		MessageID:       msg.ID,
		ConversationID:  msg.ConversationID,
		OwnerID:         msg.SenderID,
		ScreenshotterID: screenshotterID,
		OccurredAt:      s.clampScreenshotTime(occurredAt, now),
		RecordedAt:      now,
	}

	if err := s.screenshots.RecordScreenshot(ctx, event); err != nil {
		return nil, fmt.Errorf("record screenshot %s: %w", messageID, err)
	}

	logger.Info(ctx, "截圖事件已記錄",
		logger.WithUserID(screenshotterID),
		logger.WithConversationID(msg.ConversationID),
		logger.WithMessageID(messageID),
		logger.WithAction("record_screenshot"),
	)
	s.audit.LogScreenshot(ctx, screenshotterID, msg.ConversationID, messageID, msg.SenderID, event.OccurredAt)
	return event, nil
}

// clampScreenshotTime 零值或超出容許誤差的客戶端時間改用伺服器時間.
func (s *Service) clampScreenshotTime(at, now time.Time) time.Time {
	if at.IsZero() {
		return now
	}
	diff := now.Sub(at)
	if diff < 0 {
		diff = -diff
	}
	if diff > s.policy.ScreenshotSkew {
		return now
	}
	return at.UTC()
}

// NotificationQuery 截圖通知查詢條件.
type NotificationQuery struct {
	UnreadOnly bool
	Limit      int
	Cursor     string
}

// NotificationPage 截圖通知分頁結果.
type NotificationPage struct {
	Events     []*snap.ScreenshotEvent `json:"notifications"`
	NextCursor string                  `json:"next_cursor,omitempty"`
	HasMore    bool                    `json:"has_more"`
}

// GetScreenshotNotifications 寄件者查詢自己訊息上的截圖事件.
func (s *Service) GetScreenshotNotifications(ctx context.Context, ownerID string, q NotificationQuery) (NotificationPage, error) {
	if err := snap.ValidateID("owner_id", ownerID); err != nil {
		return NotificationPage{}, err
	}
	if q.Cursor != "" {
		if _, _, err := snap.DecodeCursor(q.Cursor); err != nil {
			return NotificationPage{}, err
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = constants.DefaultNotificationPageSize
	}
	if limit > constants.MaxNotificationPageSize {
		limit = constants.MaxNotificationPageSize
	}

	events, next, hasMore, err := s.screenshots.ListForOwner(ctx, ownerID, q.UnreadOnly, limit, q.Cursor)
	if err != nil {
		return NotificationPage{}, fmt.Errorf("list screenshots for %s: %w", ownerID, err)
	}
	if events == nil {
		events = []*snap.ScreenshotEvent{}
	}
	return NotificationPage{Events: events, NextCursor: next, HasMore: hasMore}, nil
}

// AcknowledgeScreenshotNotifications 標記截圖通知為已讀.
func (s *Service) AcknowledgeScreenshotNotifications(ctx context.Context, ownerID string, ids []string) (int, error) {
	if err := snap.ValidateID("owner_id", ownerID); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > constants.MaxAcknowledgeBatch {
		return 0, snap.Errorf(snap.ReasonInvalidArgument, "at most %d ids per request", constants.MaxAcknowledgeBatch)
	}
	for _, id := range ids {
		if err := snap.ValidateID("id", id); err != nil {
			return 0, err
		}
	}

	n, err := s.screenshots.Acknowledge(ctx, ownerID, ids, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("acknowledge screenshots for %s: %w", ownerID, err)
	}
	s.audit.LogNotificationsAcknowledged(ctx, ownerID, n)
	return n, nil
}
