package driver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"snap-gateway/internal/constants"
	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/logger"
)

var (
	mongoClient *mongo.Client
	mongoDB     *mongo.Database
)

// InitMongo 連接 MongoDB.
// 帳本的條件更新依賴主節點讀寫，因此固定 primary 讀取與 majority 寫入.
func InitMongo(ctx context.Context, cfg config.MongoConfig) error {
	timeout := time.Duration(cfg.ConnectTimeout) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultConnectTimeoutSecs * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOptions, err := mongoClientOptions(cfg)
	if err != nil {
		return err
	}

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	mongoClient = client
	mongoDB = client.Database(cfg.Database)

	logger.Info(ctx, "MongoDB connected",
		logger.WithDetails(map[string]interface{}{"database": cfg.Database}))
	return nil
}

func mongoClientOptions(cfg config.MongoConfig) (*options.ClientOptions, error) {
	if cfg.URL == "" {
		return nil, errors.New("MongoDB URL 不能為空")
	}
	clientOptions := options.Client().
		ApplyURI(cfg.URL).
		SetAppName("snap-gateway").
		SetReadPreference(readpref.Primary()).
		SetWriteConcern(writeconcern.Majority())

	// 認證資訊優先使用設定檔，其次環境變數
	username, password := cfg.Username, cfg.Password
	if username == "" {
		username = os.Getenv("MONGO_USERNAME")
	}
	if password == "" {
		password = os.Getenv("MONGO_PASSWORD")
	}
	if username != "" && password != "" {
		clientOptions.SetAuth(options.Credential{Username: username, Password: password})
	} else {
		logger.Warning(context.Background(), "MongoDB 使用無認證連接（開發環境）")
	}

	if cfg.TLSEnabled {
		tlsConfig, err := loadMongoTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load MongoDB TLS config: %w", err)
		}
		clientOptions.SetTLSConfig(tlsConfig)
	}

	if cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	if cfg.MaxConnIdleTime > 0 {
		clientOptions.SetMaxConnIdleTime(time.Duration(cfg.MaxConnIdleTime) * time.Second)
	}
	if cfg.ServerSelectionTimeout > 0 {
		clientOptions.SetServerSelectionTimeout(time.Duration(cfg.ServerSelectionTimeout) * time.Second)
	}
	return clientOptions, nil
}

// GetMongoDatabase 獲取 MongoDB 數據庫實例.
func GetMongoDatabase() *mongo.Database {
	return mongoDB
}

// PingMongo 健康檢查用.
func PingMongo(ctx context.Context) error {
	if mongoClient == nil {
		return errors.New("MongoDB 未連接")
	}
	return mongoClient.Ping(ctx, readpref.Primary())
}

// CloseMongo 關閉 MongoDB 連接.
func CloseMongo(ctx context.Context) error {
	if mongoClient == nil {
		return nil
	}
	err := mongoClient.Disconnect(ctx)
	mongoClient, mongoDB = nil, nil
	return err
}

// loadMongoTLSConfig 載入 MongoDB TLS 配置
func loadMongoTLSConfig(cfg config.MongoConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSInsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
		logger.Warning(context.Background(), "MongoDB TLS 證書驗證已跳過（僅開發環境）")
		return tlsConfig, nil
	}

	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to append CA certs")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}
	return tlsConfig, nil
}
