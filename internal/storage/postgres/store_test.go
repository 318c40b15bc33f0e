package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snap-gateway/internal/snap"
	"snap-gateway/internal/snapview"
	"snap-gateway/internal/storage/storetest"
)

// testDB 連線到 POSTGRES_TEST_DSN，未設定時跳過. 測試資料以唯一 ID 區隔，不清表.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skipf("跳過測試：未設定 POSTGRES_TEST_DSN")
	}

	db, err := Open(dsn, Options{MaxOpenConns: 20, ConnectTimeout: 5 * time.Second})
	if err != nil {
		t.Skipf("跳過測試：PostgreSQL 無法連線: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	require.NoError(t, AutoMigrate(context.Background(), db))
	return db
}

func TestLedger(t *testing.T) {
	storetest.RunLedgerTests(t, func(t *testing.T) snapview.Ledger { return NewStore(testDB(t)) })
}

func TestScreenshots(t *testing.T) {
	storetest.RunScreenshotTests(t, func(t *testing.T) snapview.ScreenshotStore { return NewStore(testDB(t)) })
}

func TestMessagesAndParticipants(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000000")
	convID := "conv-" + suffix
	msgID := "msg-" + suffix

	_, err := store.GetMessage(ctx, msgID)
	assert.True(t, errors.Is(err, snap.ErrMessageNotFound))

	require.NoError(t, store.CreateConversation(ctx, &snap.Conversation{ID: convID, MemberIDs: []string{"alice", "bob"}}))
	require.NoError(t, store.CreateMessage(ctx, &snap.Message{
		ID: msgID, ConversationID: convID, SenderID: "alice", Kind: snap.KindSnap, ViewingDuration: 4, MaxReplays: 1,
	}))

	msg, err := store.GetMessage(ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, snap.KindSnap, msg.Kind)
	assert.Nil(t, msg.ExpiresAt)

	ok, err := store.IsParticipant(ctx, convID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsParticipant(ctx, convID, "mallory")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Ping(ctx))
}

func TestNullTimeHelpers(t *testing.T) {
	assert.False(t, nullTime(nil).Valid)
	assert.Nil(t, timePtr(sql.NullTime{}))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))
	nt := nullTime(&now)
	require.True(t, nt.Valid)
	got := timePtr(nt)
	require.NotNil(t, got)
	assert.True(t, now.Equal(*got))
	assert.Equal(t, time.UTC, got.Location())
}
