package database

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/snap"
	"snap-gateway/internal/storage/database/memory"
	"snap-gateway/internal/storage/dynamo"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestNewRepositories_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: config.DriverMemory}}

	repos, err := NewRepositories(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, repos.LedgerBackend)
	assert.IsType(t, &memory.Store{}, repos.Stores.Ledger)

	// 寫入路徑與讀取路徑共用同一份資料
	require.NoError(t, repos.Conversations.CreateConversation(ctx, &snap.Conversation{ID: "c1", MemberIDs: []string{"a", "b"}}))
	require.NoError(t, repos.Messages.CreateMessage(ctx, &snap.Message{ID: "m1", ConversationID: "c1", SenderID: "a", Kind: snap.KindSnap, ViewingDuration: 3}))

	ok, err := repos.Stores.Members.IsParticipant(ctx, "c1", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	msg, err := repos.Stores.Messages.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "a", msg.SenderID)
}

func TestNewRepositories_DynamoLedgerOverride(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver: config.DriverMemory,
		Ledger: config.LedgerDynamoDB,
		DynamoDB: config.DynamoDBConfig{
			Table:    "view-ledger",
			Region:   "us-east-1",
			Endpoint: "http://localhost:8000",
		},
	}}

	repos, err := NewRepositories(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, config.LedgerDynamoDB, repos.LedgerBackend)
	assert.IsType(t, &dynamo.Ledger{}, repos.Stores.Ledger)
	assert.IsType(t, &memory.Store{}, repos.Stores.Messages)
}

func TestNewRepositories_RequiresConnection(t *testing.T) {
	for _, drv := range []string{config.DriverMongo, config.DriverPostgres, "sqlite"} {
		t.Run(drv, func(t *testing.T) {
			_, err := NewRepositories(context.Background(), &config.Config{Database: config.DatabaseConfig{Driver: drv}})
			assert.Error(t, err)
		})
	}
}

func TestObjectIDs(t *testing.T) {
	id := NewObjectID()
	require.NoError(t, ValidateObjectID(id))
	assert.NotEqual(t, id, NewObjectID())

	for _, bad := range []string{"", "xyz", "507f1f77bcf86cd79943901g", "507f1f77bcf86cd7994390111"} {
		assert.Error(t, ValidateObjectID(bad), bad)
	}
}
