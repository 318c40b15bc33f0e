package driver

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestMongoClientOptions(t *testing.T) {
	t.Run("url is required", func(t *testing.T) {
		_, err := mongoClientOptions(config.MongoConfig{})
		assert.Error(t, err)
	})

	t.Run("ledger consistency settings", func(t *testing.T) {
		opts, err := mongoClientOptions(config.MongoConfig{
			URL:         "mongodb://localhost:27017",
			MaxPoolSize: 20,
			MinPoolSize: 2,
		})
		require.NoError(t, err)
		require.NotNil(t, opts.ReadPreference)
		assert.Equal(t, readpref.PrimaryMode, opts.ReadPreference.Mode())
		require.NotNil(t, opts.WriteConcern)
		assert.Equal(t, "majority", opts.WriteConcern.W)
		require.NotNil(t, opts.AppName)
		assert.Equal(t, "snap-gateway", *opts.AppName)
		require.NotNil(t, opts.MaxPoolSize)
		assert.EqualValues(t, 20, *opts.MaxPoolSize)
		assert.Nil(t, opts.Auth)
	})

	t.Run("credentials from config win over env", func(t *testing.T) {
		t.Setenv("MONGO_USERNAME", "env-user")
		t.Setenv("MONGO_PASSWORD", "env-pass")

		opts, err := mongoClientOptions(config.MongoConfig{URL: "mongodb://localhost:27017", Username: "cfg-user"})
		require.NoError(t, err)
		require.NotNil(t, opts.Auth)
		assert.Equal(t, "cfg-user", opts.Auth.Username)
		assert.Equal(t, "env-pass", opts.Auth.Password)
	})

	t.Run("tls with missing ca", func(t *testing.T) {
		_, err := mongoClientOptions(config.MongoConfig{
			URL:        "mongodb://localhost:27017",
			TLSEnabled: true,
			TLSCAFile:  filepath.Join(t.TempDir(), "missing.pem"),
		})
		assert.Error(t, err)
	})

	t.Run("tls with garbage ca", func(t *testing.T) {
		ca := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(ca, []byte("not a certificate"), 0o600))
		_, err := loadMongoTLSConfig(config.MongoConfig{TLSCAFile: ca})
		assert.Error(t, err)
	})

	t.Run("tls skip verify", func(t *testing.T) {
		cfg, err := loadMongoTLSConfig(config.MongoConfig{TLSInsecureSkipVerify: true})
		require.NoError(t, err)
		assert.True(t, cfg.InsecureSkipVerify)
	})
}

func TestDisconnectedDrivers(t *testing.T) {
	ctx := context.Background()

	assert.Nil(t, GetMongoDatabase())
	assert.Error(t, PingMongo(ctx))
	assert.NoError(t, CloseMongo(ctx))

	assert.Nil(t, GetRedisClient())
	assert.Error(t, PingRedis(ctx))
	assert.NoError(t, CloseRedis())

	assert.Nil(t, GetPostgresDB())
}

func TestNewDynamoDBClient_Endpoint(t *testing.T) {
	awsCfg := aws.Config{Region: "ap-northeast-1"}

	local := NewDynamoDBClient(awsCfg, config.DynamoDBConfig{Endpoint: "http://localhost:8000"})
	require.NotNil(t, local.Options().BaseEndpoint)
	assert.Equal(t, "http://localhost:8000", *local.Options().BaseEndpoint)

	remote := NewDynamoDBClient(awsCfg, config.DynamoDBConfig{})
	assert.Nil(t, remote.Options().BaseEndpoint)
	assert.Equal(t, "ap-northeast-1", remote.Options().Region)
}
