package driver

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/logger"
)

var redisClient *redis.Client

// InitRedis 連接 Redis，目前只用於分散式速率限制.
func InitRedis(ctx context.Context, cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	redisClient = client
	logger.Info(ctx, "Redis connected", logger.WithDetails(map[string]interface{}{"addr": cfg.Addr}))
	return nil
}

// GetRedisClient 獲取 Redis 客戶端.
func GetRedisClient() *redis.Client {
	return redisClient
}

// PingRedis 健康檢查用.
func PingRedis(ctx context.Context) error {
	if redisClient == nil {
		return fmt.Errorf("Redis 未連接")
	}
	return redisClient.Ping(ctx).Err()
}

// CloseRedis 關閉 Redis 連線.
func CloseRedis() error {
	if redisClient == nil {
		return nil
	}
	err := redisClient.Close()
	redisClient = nil
	return err
}
