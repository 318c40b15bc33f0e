package snapstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"snap-gateway/internal/snap"
)

// messageDoc 訊息文件，只保存觀看協定需要的欄位
type messageDoc struct {
	ObjectID        bson.ObjectID `bson:"_id,omitempty"`
	ID              string        `bson:"id"`
	ConversationID  string        `bson:"conversation_id"`
	SenderID        string        `bson:"sender_id"`
	Kind            string        `bson:"kind"`
	ViewingDuration int           `bson:"viewing_duration"`
	MaxReplays      int           `bson:"max_replays"`
	ExpiresAt       *time.Time    `bson:"expires_at,omitempty"`
	CreatedAt       time.Time     `bson:"created_at"`
}

func (d *messageDoc) toModel() *snap.Message {
	msg := &snap.Message{
		ID:              d.ID,
		ConversationID:  d.ConversationID,
		SenderID:        d.SenderID,
		Kind:            snap.Kind(d.Kind),
		ViewingDuration: d.ViewingDuration,
		MaxReplays:      d.MaxReplays,
		CreatedAt:       d.CreatedAt.UTC(),
	}
	if d.ExpiresAt != nil {
		exp := d.ExpiresAt.UTC()
		msg.ExpiresAt = &exp
	}
	return msg
}

// MessageStore 訊息存儲實作
type MessageStore struct {
	collection *mongo.Collection
}

// NewMessageStore 創建訊息存儲
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{
		collection: db.Collection(messagesCollection),
	}
}

// CreateMessage 創建訊息. 觀看參數寫入後不提供更新方法.
func (s *MessageStore) CreateMessage(ctx context.Context, msg *snap.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	doc := messageDoc{
		ObjectID:        bson.NewObjectID(),
		ID:              msg.ID,
		ConversationID:  msg.ConversationID,
		SenderID:        msg.SenderID,
		Kind:            string(msg.Kind),
		ViewingDuration: msg.ViewingDuration,
		MaxReplays:      msg.MaxReplays,
		ExpiresAt:       msg.ExpiresAt,
		CreatedAt:       msg.CreatedAt,
	}

	_, err := s.collection.InsertOne(ctx, doc)
	return err
}

// GetMessage 根據 ID 獲取訊息
func (s *MessageStore) GetMessage(ctx context.Context, id string) (*snap.Message, error) {
	var doc messageDoc
	err := s.collection.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, snap.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}
