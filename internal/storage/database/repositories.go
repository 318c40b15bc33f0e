package database

import (
	"context"
	"fmt"

	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/driver"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/snap"
	"snap-gateway/internal/snapview"
	"snap-gateway/internal/storage/database/memory"
	"snap-gateway/internal/storage/database/snapstore"
	"snap-gateway/internal/storage/dynamo"
	"snap-gateway/internal/storage/postgres"
)

// ConversationWriter 建立對話（seed 與外部寫入路徑使用）.
type ConversationWriter interface {
	CreateConversation(ctx context.Context, conv *snap.Conversation) error
}

// Repositories 倉儲集合.
type Repositories struct {
	Driver        string
	LedgerBackend string
	Stores        snapview.Stores
	Conversations ConversationWriter
	Messages      snapview.MessageWriter
}

// NewRepositories 依設定的 driver 建立倉儲集合. 對應的連線必須先由 driver 套件建立.
func NewRepositories(ctx context.Context, cfg *config.Config) (*Repositories, error) {
	var repos *Repositories

	switch cfg.Database.Driver {
	case config.DriverMongo:
		db := driver.GetMongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB 尚未連接")
		}
		// 帳本唯一索引是首次觀看原子性的前提，建立失敗即中止
		if err := snapstore.CreateIndexes(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to create MongoDB indexes: %w", err)
		}
		conversations := snapstore.NewConversationStore(db)
		messages := snapstore.NewMessageStore(db)
		repos = &Repositories{
			Stores: snapview.Stores{
				Messages:    messages,
				Members:     conversations,
				Ledger:      snapstore.NewLedgerStore(db),
				Screenshots: snapstore.NewScreenshotStore(db),
			},
			Conversations: conversations,
			Messages:      messages,
		}

	case config.DriverPostgres:
		db := driver.GetPostgresDB()
		if db == nil {
			return nil, fmt.Errorf("PostgreSQL 尚未連接")
		}
		repos = fromSingleStore(postgres.NewStore(db))

	case config.DriverMemory:
		logger.Warning(ctx, "使用記憶體儲存，重啟後資料會遺失")
		repos = fromSingleStore(memory.NewStore())

	default:
		return nil, fmt.Errorf("未知的資料庫驅動: %s", cfg.Database.Driver)
	}
	repos.Driver = cfg.Database.Driver
	repos.LedgerBackend = cfg.Database.Driver

	if cfg.Database.Ledger == config.LedgerDynamoDB {
		ledger, err := newDynamoLedger(ctx, cfg.Database.DynamoDB)
		if err != nil {
			return nil, err
		}
		repos.Stores.Ledger = ledger
		repos.LedgerBackend = config.LedgerDynamoDB
	}

	logger.Info(ctx, "倉儲已建立", logger.WithDetails(map[string]interface{}{
		"driver": repos.Driver,
		"ledger": repos.LedgerBackend,
	}))
	return repos, nil
}

// singleStore 單一物件實作全部介面的後端（記憶體、PostgreSQL）.
type singleStore interface {
	snapview.MessageReader
	snapview.MessageWriter
	snapview.MembershipChecker
	snapview.Ledger
	snapview.ScreenshotStore
	ConversationWriter
}

func fromSingleStore(s singleStore) *Repositories {
	return &Repositories{
		Stores: snapview.Stores{
			Messages:    s,
			Members:     s,
			Ledger:      s,
			Screenshots: s,
		},
		Conversations: s,
		Messages:      s,
	}
}

func newDynamoLedger(ctx context.Context, cfg config.DynamoDBConfig) (*dynamo.Ledger, error) {
	awsCfg, err := driver.LoadAWSConfig(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}
	ledger, err := dynamo.New(driver.NewDynamoDBClient(awsCfg, cfg), cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB ledger: %w", err)
	}
	return ledger, nil
}
