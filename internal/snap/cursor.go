package snap

import (
	"encoding/base64"
	"strings"
	"time"
)

// EncodeCursor 以 (occurred_at, id) 編碼分頁游標，同一時間點的事件也能穩定排序.
func EncodeCursor(at time.Time, id string) string {
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor 解析 EncodeCursor 產生的游標.
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", Errorf(ReasonInvalidArgument, "malformed cursor")
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return time.Time{}, "", Errorf(ReasonInvalidArgument, "malformed cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, "", Errorf(ReasonInvalidArgument, "malformed cursor")
	}
	return t, id, nil
}

// After 判斷事件是否排在游標之後（由新到舊）.
func (e *ScreenshotEvent) After(at time.Time, id string) bool {
	if e.OccurredAt.Equal(at) {
		return e.ID < id
	}
	return e.OccurredAt.Before(at)
}
