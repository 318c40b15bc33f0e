package snap

import (
	"strings"
	"time"

	"snap-gateway/internal/constants"
)

// Bounds 觀看參數的允許範圍. MaxReplays 為 0 表示不限制重播上限.
type Bounds struct {
	MinViewingSeconds int
	MaxViewingSeconds int
	MaxReplays        int
}

// DefaultBounds 1 到 10 秒，重播最多 3 次.
var DefaultBounds = Bounds{MinViewingSeconds: 1, MaxViewingSeconds: 10, MaxReplays: 3}

// ValidateID 檢查識別碼非空、長度合理且不含控制字元.
func ValidateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return Errorf(ReasonInvalidArgument, "%s is required", field)
	}
	if len(id) > constants.MaxUserIDLength {
		return Errorf(ReasonInvalidArgument, "%s is too long", field)
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return Errorf(ReasonInvalidArgument, "%s contains control characters", field)
		}
	}
	return nil
}

// Validate 檢查帳本鍵.
func (k ViewKey) Validate() error {
	if err := ValidateID("message_id", k.MessageID); err != nil {
		return err
	}
	return ValidateID("viewer_id", k.ViewerID)
}

// ValidateEphemeral 檢查發送時的觀看參數.
func ValidateEphemeral(viewingDuration, maxReplays int, expiresAt *time.Time, createdAt time.Time, b Bounds) error {
	if viewingDuration < b.MinViewingSeconds || viewingDuration > b.MaxViewingSeconds {
		return Errorf(ReasonInvalidArgument, "viewing_duration must be between %d and %d seconds",
			b.MinViewingSeconds, b.MaxViewingSeconds)
	}
	if maxReplays < 0 {
		return Errorf(ReasonInvalidArgument, "max_replays must not be negative")
	}
	if b.MaxReplays > 0 && maxReplays > b.MaxReplays {
		return Errorf(ReasonInvalidArgument, "max_replays must not exceed %d", b.MaxReplays)
	}
	if expiresAt != nil && !createdAt.IsZero() && !expiresAt.After(createdAt) {
		return Errorf(ReasonInvalidArgument, "expires_at must be after created_at")
	}
	return nil
}

// Validate 檢查訊息欄位.
func (m *Message) Validate(b Bounds) error {
	if err := ValidateID("id", m.ID); err != nil {
		return err
	}
	if err := ValidateID("conversation_id", m.ConversationID); err != nil {
		return err
	}
	if err := ValidateID("sender_id", m.SenderID); err != nil {
		return err
	}
	if !m.Kind.Valid() {
		return Errorf(ReasonInvalidArgument, "unknown kind %q", m.Kind)
	}
	if !m.IsEphemeral() {
		return nil
	}
	return ValidateEphemeral(m.ViewingDuration, m.MaxReplays, m.ExpiresAt, m.CreatedAt, b)
}
