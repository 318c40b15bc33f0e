package snapstore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引. 帳本的唯一索引是首次觀看原子性的前提，不可省略.
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	// 1. 觀看帳本：(message_id, viewer_id) 唯一
	ledgerIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "message_id", Value: 1},
				{Key: "viewer_id", Value: 1},
			},
			Options: options.Index().SetName("message_viewer_uniq").SetUnique(true),
		},
	}
	if _, err := db.Collection(viewRecordsCollection).Indexes().CreateMany(ctx, ledgerIndexes); err != nil {
		return err
	}

	// 2. 訊息：id 唯一
	messageIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("id_uniq").SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("conversation_time_idx"),
		},
	}
	if _, err := db.Collection(messagesCollection).Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	// 3. 對話：id 唯一、成員查詢
	conversationIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("id_uniq").SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "id", Value: 1},
				{Key: "members.user_id", Value: 1},
			},
			Options: options.Index().SetName("conversation_member_idx"),
		},
	}
	if _, err := db.Collection(conversationsCollection).Indexes().CreateMany(ctx, conversationIndexes); err != nil {
		return err
	}

	// 4. 截圖事件：寄件者依時間查詢
	screenshotIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "occurred_at", Value: -1},
				{Key: "_id", Value: -1},
			},
			Options: options.Index().SetName("owner_time_idx"),
		},
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "acknowledged_at", Value: 1},
			},
			Options: options.Index().SetName("owner_unread_idx"),
		},
	}
	_, err := db.Collection(screenshotsCollection).Indexes().CreateMany(ctx, screenshotIndexes)
	return err
}

// GetIndexStats 獲取索引統計信息
func GetIndexStats(ctx context.Context, db *mongo.Database) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	for _, name := range []string{conversationsCollection, messagesCollection, viewRecordsCollection, screenshotsCollection} {
		cur, err := db.Collection(name).Indexes().List(ctx)
		if err != nil {
			return nil, err
		}

		var indexes []bson.M
		if err := cur.All(ctx, &indexes); err != nil {
			return nil, err
		}
		stats[name+"_indexes"] = indexes
	}

	return stats, nil
}
