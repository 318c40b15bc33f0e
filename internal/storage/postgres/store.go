package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"snap-gateway/internal/snap"
)

// Store 實作訊息、成員、帳本與截圖儲存.
type Store struct {
	db *sql.DB
}

// NewStore 建立 PostgreSQL 儲存.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateConversation 建立對話與成員.
func (s *Store) CreateConversation(ctx context.Context, conv *snap.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (id, created_at) VALUES ($1, $2)",
		conv.ID, conv.CreatedAt,
	); err != nil {
		return err
	}
	for _, userID := range conv.MemberIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO participants (conversation_id, user_id, joined_at) VALUES ($1, $2, $3)",
			conv.ID, userID, conv.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// IsParticipant 檢查成員.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2)",
		conversationID, userID,
	).Scan(&exists)
	return exists, err
}

// CreateMessage 建立訊息.
func (s *Store) CreateMessage(ctx context.Context, msg *snap.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO messages
		(id, conversation_id, sender_id, kind, viewing_duration, max_replays, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, string(msg.Kind),
		msg.ViewingDuration, msg.MaxReplays, nullTime(msg.ExpiresAt), msg.CreatedAt,
	)
	return err
}

// GetMessage 取得訊息.
func (s *Store) GetMessage(ctx context.Context, id string) (*snap.Message, error) {
	query := `SELECT id, conversation_id, sender_id, kind, viewing_duration, max_replays, expires_at, created_at
		FROM messages WHERE id = $1`

	var (
		msg     snap.Message
		kind    string
		expires sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &kind,
		&msg.ViewingDuration, &msg.MaxReplays, &expires, &msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snap.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.Kind = snap.Kind(kind)
	msg.ExpiresAt = timePtr(expires)
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

const recordColumns = "message_id, viewer_id, first_viewed_at, replay_count, last_viewing_started_at, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*snap.ViewRecord, error) {
	var (
		rec         snap.ViewRecord
		first, last sql.NullTime
	)
	if err := row.Scan(&rec.MessageID, &rec.ViewerID, &first, &rec.ReplayCount, &last, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.FirstViewedAt = timePtr(first)
	rec.LastViewingStartedAt = timePtr(last)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// GetRecord 取得帳本紀錄.
func (s *Store) GetRecord(ctx context.Context, key snap.ViewKey) (*snap.ViewRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM view_records WHERE message_id = $1 AND viewer_id = $2",
		key.MessageID, key.ViewerID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snap.ErrRecordNotFound
	}
	return rec, err
}

// BeginFirstView 以 ON CONFLICT DO NOTHING 建立紀錄，衝突時回傳既有列.
func (s *Store) BeginFirstView(ctx context.Context, key snap.ViewKey, now time.Time) (*snap.ViewRecord, bool, error) {
	now = now.UTC()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO view_records (message_id, viewer_id, first_viewed_at, replay_count, last_viewing_started_at, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $3, $3, $3)
		ON CONFLICT (message_id, viewer_id) DO NOTHING
		RETURNING `+recordColumns,
		key.MessageID, key.ViewerID, now,
	)
	rec, err := scanRecord(row)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	existing, err := s.GetRecord(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ConsumeReplay 在交易內以 SELECT ... FOR UPDATE 鎖住該列後檢查並遞增.
func (s *Store) ConsumeReplay(ctx context.Context, key snap.ViewKey, maxReplays int, now time.Time) (*snap.ViewRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		"SELECT replay_count FROM view_records WHERE message_id = $1 AND viewer_id = $2 FOR UPDATE",
		key.MessageID, key.ViewerID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snap.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if count >= maxReplays {
		return nil, snap.ErrReplayBudgetExhausted
	}

	row := tx.QueryRowContext(ctx,
		`UPDATE view_records
		SET replay_count = replay_count + 1, last_viewing_started_at = $3, updated_at = $3
		WHERE message_id = $1 AND viewer_id = $2
		RETURNING `+recordColumns,
		key.MessageID, key.ViewerID, now.UTC(),
	)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordScreenshot 新增截圖事件.
func (s *Store) RecordScreenshot(ctx context.Context, e *snap.ScreenshotEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO screenshot_events
		(id, message_id, conversation_id, owner_id, screenshotter_id, occurred_at, recorded_at, acknowledged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.MessageID, e.ConversationID, e.OwnerID, e.ScreenshotterID,
		e.OccurredAt.UTC(), e.RecordedAt.UTC(), nullTime(e.AcknowledgedAt),
	)
	return err
}

// ListForOwner 依 (occurred_at, id) 由新到舊分頁.
func (s *Store) ListForOwner(ctx context.Context, ownerID string, unreadOnly bool, limit int, cursor string) (
	[]*snap.ScreenshotEvent, string, bool, error,
) {
	var (
		where = []string{"owner_id = $1"}
		args  = []any{ownerID}
	)
	if unreadOnly {
		where = append(where, "acknowledged_at IS NULL")
	}
	if cursor != "" {
		at, id, err := snap.DecodeCursor(cursor)
		if err != nil {
			return nil, "", false, err
		}
		args = append(args, at, id)
		where = append(where, fmt.Sprintf("(occurred_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit+1)

	query := fmt.Sprintf(`SELECT id, message_id, conversation_id, owner_id, screenshotter_id, occurred_at, recorded_at, acknowledged_at
		FROM screenshot_events WHERE %s ORDER BY occurred_at DESC, id DESC LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", false, err
	}
	defer rows.Close()

	events := []*snap.ScreenshotEvent{}
	for rows.Next() {
		var (
			e   snap.ScreenshotEvent
			ack sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.MessageID, &e.ConversationID, &e.OwnerID, &e.ScreenshotterID,
			&e.OccurredAt, &e.RecordedAt, &ack); err != nil {
			return nil, "", false, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		e.RecordedAt = e.RecordedAt.UTC()
		e.AcknowledgedAt = timePtr(ack)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", false, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	var next string
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		next = snap.EncodeCursor(last.OccurredAt, last.ID)
	}
	return events, next, hasMore, nil
}

// Acknowledge 標記已讀.
func (s *Store) Acknowledge(ctx context.Context, ownerID string, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := []any{ownerID, at.UTC()}
	for i, id := range ids {
		args = append(args, id)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE screenshot_events SET acknowledged_at = $2
			WHERE owner_id = $1 AND acknowledged_at IS NULL AND id IN (%s)`, strings.Join(placeholders, ", ")),
		args...,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Ping 健康檢查.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
