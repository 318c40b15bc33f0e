package snapstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"snap-gateway/internal/snap"
)

// viewRecordDoc 觀看帳本文件，(message_id, viewer_id) 有唯一索引
type viewRecordDoc struct {
	MessageID            string     `bson:"message_id"`
	ViewerID             string     `bson:"viewer_id"`
	FirstViewedAt        *time.Time `bson:"first_viewed_at,omitempty"`
	ReplayCount          int        `bson:"replay_count"`
	LastViewingStartedAt *time.Time `bson:"last_viewing_started_at,omitempty"`
	CreatedAt            time.Time  `bson:"created_at"`
	UpdatedAt            time.Time  `bson:"updated_at"`
}

func (d *viewRecordDoc) toModel() *snap.ViewRecord {
	rec := &snap.ViewRecord{
		MessageID:   d.MessageID,
		ViewerID:    d.ViewerID,
		ReplayCount: d.ReplayCount,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.FirstViewedAt != nil {
		t := d.FirstViewedAt.UTC()
		rec.FirstViewedAt = &t
	}
	if d.LastViewingStartedAt != nil {
		t := d.LastViewingStartedAt.UTC()
		rec.LastViewingStartedAt = &t
	}
	return rec
}

// LedgerStore 觀看帳本存儲
type LedgerStore struct {
	collection *mongo.Collection
}

// NewLedgerStore 創建觀看帳本存儲
func NewLedgerStore(db *mongo.Database) *LedgerStore {
	return &LedgerStore{
		collection: db.Collection(viewRecordsCollection),
	}
}

func keyFilter(key snap.ViewKey) bson.M {
	return bson.M{"message_id": key.MessageID, "viewer_id": key.ViewerID}
}

// GetRecord 獲取帳本紀錄
func (s *LedgerStore) GetRecord(ctx context.Context, key snap.ViewKey) (*snap.ViewRecord, error) {
	var doc viewRecordDoc
	err := s.collection.FindOne(ctx, keyFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, snap.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

// BeginFirstView 以 $setOnInsert upsert 建立首次觀看紀錄，已存在的文件不會被修改
func (s *LedgerStore) BeginFirstView(ctx context.Context, key snap.ViewKey, now time.Time) (*snap.ViewRecord, bool, error) {
	rec := snap.NewFirstView(key, now)
	update := bson.M{
		"$setOnInsert": viewRecordDoc{
			MessageID:            rec.MessageID,
			ViewerID:             rec.ViewerID,
			FirstViewedAt:        rec.FirstViewedAt,
			ReplayCount:          0,
			LastViewingStartedAt: rec.LastViewingStartedAt,
			CreatedAt:            rec.CreatedAt,
			UpdatedAt:            rec.UpdatedAt,
		},
	}

	res, err := s.collection.UpdateOne(ctx, keyFilter(key), update, options.UpdateOne().SetUpsert(true))
	switch {
	case mongo.IsDuplicateKeyError(err):
		// 並發的 upsert 由唯一索引擋下，視為已存在
	case err != nil:
		return nil, false, err
	case res.UpsertedCount == 1:
		return rec, true, nil
	}

	existing, err := s.GetRecord(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ConsumeReplay 以 replay_count < maxReplays 為條件的 FindOneAndUpdate 完成比較並遞增
func (s *LedgerStore) ConsumeReplay(ctx context.Context, key snap.ViewKey, maxReplays int, now time.Time) (*snap.ViewRecord, error) {
	now = now.UTC()
	filter := keyFilter(key)
	filter["replay_count"] = bson.M{"$lt": maxReplays}

	update := bson.M{
		"$inc": bson.M{"replay_count": 1},
		"$set": bson.M{
			"last_viewing_started_at": now,
			"updated_at":              now,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc viewRecordDoc
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toModel(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// 條件不成立：區分紀錄不存在與額度用盡
	if _, err := s.GetRecord(ctx, key); err != nil {
		return nil, err
	}
	return nil, snap.ErrReplayBudgetExhausted
}
