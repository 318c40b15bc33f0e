// Package memory 提供行程內的儲存實作，用於測試與本地開發.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"snap-gateway/internal/snap"
)

// Store 單一互斥鎖保護全部資料，帳本的檢查與更新在同一把鎖內完成.
type Store struct {
	mu            sync.Mutex
	messages      map[string]snap.Message
	conversations map[string]snap.Conversation
	records       map[snap.ViewKey]snap.ViewRecord
	screenshots   []snap.ScreenshotEvent
}

// NewStore 建立空的記憶體儲存.
func NewStore() *Store {
	return &Store{
		messages:      make(map[string]snap.Message),
		conversations: make(map[string]snap.Conversation),
		records:       make(map[snap.ViewKey]snap.ViewRecord),
	}
}

// CreateConversation 建立對話.
func (s *Store) CreateConversation(_ context.Context, conv *snap.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	c := *conv
	c.MemberIDs = append([]string(nil), conv.MemberIDs...)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.conversations[c.ID] = c
	return nil
}

// IsParticipant 檢查成員.
func (s *Store) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return false, nil
	}
	return conv.HasMember(userID), nil
}

// CreateMessage 建立訊息.
func (s *Store) CreateMessage(_ context.Context, msg *snap.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	m := *msg
	if m.ExpiresAt != nil {
		exp := *m.ExpiresAt
		m.ExpiresAt = &exp
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.ID] = m
	return nil
}

// GetMessage 取得訊息.
func (s *Store) GetMessage(_ context.Context, id string) (*snap.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, snap.ErrMessageNotFound
	}
	return &m, nil
}

// GetRecord 取得帳本紀錄.
func (s *Store) GetRecord(_ context.Context, key snap.ViewKey) (*snap.ViewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, snap.ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

// BeginFirstView 建立首次觀看紀錄，已存在則原樣回傳.
func (s *Store) BeginFirstView(_ context.Context, key snap.ViewKey, now time.Time) (*snap.ViewRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok {
		return cloneRecord(rec), false, nil
	}
	rec := *snap.NewFirstView(key, now)
	s.records[key] = rec
	return cloneRecord(rec), true, nil
}

// ConsumeReplay 檢查並遞增重播次數.
func (s *Store) ConsumeReplay(_ context.Context, key snap.ViewKey, maxReplays int, now time.Time) (*snap.ViewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, snap.ErrRecordNotFound
	}
	if rec.ReplayCount >= maxReplays {
		return nil, snap.ErrReplayBudgetExhausted
	}

	now = now.UTC()
	rec.ReplayCount++
	rec.LastViewingStartedAt = &now
	rec.UpdatedAt = now
	s.records[key] = rec
	return cloneRecord(rec), nil
}

// RecordScreenshot 新增截圖事件.
func (s *Store) RecordScreenshot(_ context.Context, event *snap.ScreenshotEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.screenshots = append(s.screenshots, *event)
	return nil
}

// ListForOwner 依時間由新到舊分頁.
func (s *Store) ListForOwner(_ context.Context, ownerID string, unreadOnly bool, limit int, cursor string) (
	[]*snap.ScreenshotEvent, string, bool, error,
) {
	var (
		cursorAt time.Time
		cursorID string
	)
	if cursor != "" {
		at, id, err := snap.DecodeCursor(cursor)
		if err != nil {
			return nil, "", false, err
		}
		cursorAt, cursorID = at, id
	}

	s.mu.Lock()
	matched := make([]*snap.ScreenshotEvent, 0)
	for i := range s.screenshots {
		e := s.screenshots[i]
		if e.OwnerID != ownerID {
			continue
		}
		if unreadOnly && e.AcknowledgedAt != nil {
			continue
		}
		if cursor != "" && !e.After(cursorAt, cursorID) {
			continue
		}
		matched = append(matched, &e)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}

	var next string
	if hasMore && len(matched) > 0 {
		last := matched[len(matched)-1]
		next = snap.EncodeCursor(last.OccurredAt, last.ID)
	}
	return matched, next, hasMore, nil
}

// Acknowledge 標記已讀.
func (s *Store) Acknowledge(_ context.Context, ownerID string, ids []string, at time.Time) (int, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	n := 0
	for i := range s.screenshots {
		e := &s.screenshots[i]
		if _, ok := want[e.ID]; !ok || e.OwnerID != ownerID || e.AcknowledgedAt != nil {
			continue
		}
		ackAt := at
		e.AcknowledgedAt = &ackAt
		n++
	}
	return n, nil
}

// Close 無資源需要釋放.
func (s *Store) Close(context.Context) error { return nil }

func cloneRecord(rec snap.ViewRecord) *snap.ViewRecord {
	if rec.FirstViewedAt != nil {
		t := *rec.FirstViewedAt
		rec.FirstViewedAt = &t
	}
	if rec.LastViewingStartedAt != nil {
		t := *rec.LastViewingStartedAt
		rec.LastViewingStartedAt = &t
	}
	return &rec
}
