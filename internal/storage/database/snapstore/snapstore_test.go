package snapstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"snap-gateway/internal/snap"
	"snap-gateway/internal/snapview"
	"snap-gateway/internal/storage/storetest"
)

// testDatabase 連線到 MONGO_TEST_URL，未設定時跳過
func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()

	url := os.Getenv("MONGO_TEST_URL")
	if url == "" {
		t.Skipf("跳過測試：未設定 MONGO_TEST_URL")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(url))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("跳過測試：MongoDB 無法連線: %v", err)
	}

	db := client.Database(fmt.Sprintf("snap_gateway_test_%d", time.Now().UnixNano()))
	require.NoError(t, CreateIndexes(ctx, db))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

func TestLedgerStore(t *testing.T) {
	storetest.RunLedgerTests(t, func(t *testing.T) snapview.Ledger {
		return NewLedgerStore(testDatabase(t))
	})
}

func TestScreenshotStore(t *testing.T) {
	storetest.RunScreenshotTests(t, func(t *testing.T) snapview.ScreenshotStore {
		return NewScreenshotStore(testDatabase(t))
	})
}

func TestMessageAndConversationStores(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	messages := NewMessageStore(db)
	conversations := NewConversationStore(db)

	_, err := messages.GetMessage(ctx, "missing")
	assert.True(t, errors.Is(err, snap.ErrMessageNotFound))

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, messages.CreateMessage(ctx, &snap.Message{
		ID:              "m1",
		ConversationID:  "c1",
		SenderID:        "alice",
		Kind:            snap.KindSnap,
		ViewingDuration: 7,
		MaxReplays:      2,
		ExpiresAt:       &expires,
	}))
	assert.Error(t, messages.CreateMessage(ctx, &snap.Message{ID: "m1"}), "id is unique")

	msg, err := messages.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 7, msg.ViewingDuration)
	assert.Equal(t, 2, msg.MaxReplays)
	require.NotNil(t, msg.ExpiresAt)
	assert.True(t, expires.Equal(*msg.ExpiresAt))

	require.NoError(t, conversations.CreateConversation(ctx, &snap.Conversation{ID: "c1", MemberIDs: []string{"alice", "bob"}}))

	ok, err := conversations.IsParticipant(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = conversations.IsParticipant(ctx, "c1", "mallory")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexStats(t *testing.T) {
	db := testDatabase(t)

	stats, err := GetIndexStats(context.Background(), db)
	require.NoError(t, err)
	assert.Contains(t, stats, "view_records_indexes")
}
