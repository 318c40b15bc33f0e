// Package snapstore 以 MongoDB 實作訊息、對話成員、觀看帳本與截圖事件的儲存.
package snapstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"snap-gateway/internal/snap"
)

// 集合名稱.
const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	viewRecordsCollection   = "view_records"
	screenshotsCollection   = "screenshot_events"
)

// conversationDoc 對話文件
type conversationDoc struct {
	ObjectID  bson.ObjectID `bson:"_id,omitempty"`
	ID        string        `bson:"id"`
	Members   []memberDoc   `bson:"members"`
	CreatedAt time.Time     `bson:"created_at"`
}

// memberDoc 對話成員
type memberDoc struct {
	UserID   string    `bson:"user_id"`
	JoinedAt time.Time `bson:"joined_at"`
}

// ConversationStore 對話成員存儲
type ConversationStore struct {
	collection *mongo.Collection
}

// NewConversationStore 創建對話存儲
func NewConversationStore(db *mongo.Database) *ConversationStore {
	return &ConversationStore{
		collection: db.Collection(conversationsCollection),
	}
}

// CreateConversation 創建對話
func (s *ConversationStore) CreateConversation(ctx context.Context, conv *snap.Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}

	doc := conversationDoc{
		ObjectID:  bson.NewObjectID(),
		ID:        conv.ID,
		CreatedAt: conv.CreatedAt,
	}
	for _, userID := range conv.MemberIDs {
		doc.Members = append(doc.Members, memberDoc{UserID: userID, JoinedAt: conv.CreatedAt})
	}

	_, err := s.collection.InsertOne(ctx, doc)
	return err
}

// IsParticipant 檢查用戶是否是對話成員
func (s *ConversationStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{
		"id":              conversationID,
		"members.user_id": userID,
	})
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
