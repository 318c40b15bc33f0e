package snapstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"snap-gateway/internal/snap"
)

// screenshotDoc 截圖事件文件，_id 為事件 ID
type screenshotDoc struct {
	ID              string     `bson:"_id"`
	MessageID       string     `bson:"message_id"`
	ConversationID  string     `bson:"conversation_id"`
	OwnerID         string     `bson:"owner_id"`
	ScreenshotterID string     `bson:"screenshotter_id"`
	OccurredAt      time.Time  `bson:"occurred_at"`
	RecordedAt      time.Time  `bson:"recorded_at"`
	AcknowledgedAt  *time.Time `bson:"acknowledged_at,omitempty"`
}

func (d *screenshotDoc) toModel() *snap.ScreenshotEvent {
	e := &snap.ScreenshotEvent{
		ID:              d.ID,
		MessageID:       d.MessageID,
		ConversationID:  d.ConversationID,
		OwnerID:         d.OwnerID,
		ScreenshotterID: d.ScreenshotterID,
		OccurredAt:      d.OccurredAt.UTC(),
		RecordedAt:      d.RecordedAt.UTC(),
	}
	if d.AcknowledgedAt != nil {
		t := d.AcknowledgedAt.UTC()
		e.AcknowledgedAt = &t
	}
	return e
}

// ScreenshotStore 截圖事件存儲
type ScreenshotStore struct {
	collection *mongo.Collection
}

// NewScreenshotStore 創建截圖事件存儲
func NewScreenshotStore(db *mongo.Database) *ScreenshotStore {
	return &ScreenshotStore{
		collection: db.Collection(screenshotsCollection),
	}
}

// RecordScreenshot 新增截圖事件
func (s *ScreenshotStore) RecordScreenshot(ctx context.Context, event *snap.ScreenshotEvent) error {
	_, err := s.collection.InsertOne(ctx, screenshotDoc{
		ID:              event.ID,
		MessageID:       event.MessageID,
		ConversationID:  event.ConversationID,
		OwnerID:         event.OwnerID,
		ScreenshotterID: event.ScreenshotterID,
		OccurredAt:      event.OccurredAt,
		RecordedAt:      event.RecordedAt,
		AcknowledgedAt:  event.AcknowledgedAt,
	})
	return err
}

// ListForOwner 列出寄件者的截圖事件.
func (s *ScreenshotStore) ListForOwner(
	ctx context.Context, ownerID string, unreadOnly bool, limit int, cursor string,
) (
	events []*snap.ScreenshotEvent, nextCursor string, hasMore bool, err error,
) {
	filter := bson.M{"owner_id": ownerID}
	if unreadOnly {
		filter["acknowledged_at"] = nil
	}

	// 如果有游標，添加游標條件
	if cursor != "" {
		at, id, decodeErr := snap.DecodeCursor(cursor)
		if decodeErr != nil {
			return nil, "", false, decodeErr
		}
		filter["$or"] = bson.A{
			bson.M{"occurred_at": bson.M{"$lt": at}},
			bson.M{"occurred_at": at, "_id": bson.M{"$lt": id}},
		}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "occurred_at", Value: -1}, {Key: "_id", Value: -1}})

	cur, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cur.Close(ctx)

	events = []*snap.ScreenshotEvent{}
	for cur.Next(ctx) {
		var doc screenshotDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, "", false, err
		}
		events = append(events, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, "", false, err
	}

	hasMore = len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		nextCursor = snap.EncodeCursor(last.OccurredAt, last.ID)
	}

	return events, nextCursor, hasMore, nil
}

// Acknowledge 標記已讀
func (s *ScreenshotStore) Acknowledge(ctx context.Context, ownerID string, ids []string, at time.Time) (int, error) {
	res, err := s.collection.UpdateMany(ctx,
		bson.M{
			"_id":             bson.M{"$in": ids},
			"owner_id":        ownerID,
			"acknowledged_at": nil,
		},
		bson.M{"$set": bson.M{"acknowledged_at": at.UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}
