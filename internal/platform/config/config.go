package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"snap-gateway/internal/constants"
)

// 資料庫驅動名稱.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	LedgerDynamoDB = "dynamodb"
)

// 速率限制後端.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// 閱後即焚訊息觀看秒數的絕對上下限.
const (
	AbsoluteMinViewingSeconds = 1
	AbsoluteMaxViewingSeconds = 10
)

// Config 應用程式配置結構.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Snap     SnapConfig     `mapstructure:"snap"`
}

// AppConfig 應用程式基本配置.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// ServerConfig HTTP 伺服器配置.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Timeout  int    `mapstructure:"timeout"`
	UseHTTPS bool   `mapstructure:"use_https"`
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`
}

// GRPCConfig gRPC 配置.
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// DatabaseConfig 資料庫配置.
// Driver 決定訊息、成員與截圖的儲存位置；Ledger 可另外指定觀看帳本的後端.
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Ledger   string         `mapstructure:"ledger"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
}

// MongoConfig MongoDB 配置.
type MongoConfig struct {
	URL                    string `mapstructure:"url"`
	Database               string `mapstructure:"database"`
	Username               string `mapstructure:"username"`
	Password               string `mapstructure:"password"`
	MaxPoolSize            uint64 `mapstructure:"max_pool_size"`
	MinPoolSize            uint64 `mapstructure:"min_pool_size"`
	MaxConnIdleTime        int    `mapstructure:"max_conn_idle_time"`
	ConnectTimeout         int    `mapstructure:"connect_timeout"`
	ServerSelectionTimeout int    `mapstructure:"server_selection_timeout"`
	TLSEnabled             bool   `mapstructure:"tls_enabled"`
	TLSCAFile              string `mapstructure:"tls_ca_file"`
	TLSCertFile            string `mapstructure:"tls_cert_file"`
	TLSKeyFile             string `mapstructure:"tls_key_file"`
	TLSInsecureSkipVerify  bool   `mapstructure:"tls_insecure_skip_verify"`
}

// PostgresConfig PostgreSQL 配置.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
	ConnectTimeout         int    `mapstructure:"connect_timeout"`
}

// DynamoDBConfig DynamoDB 觀看帳本配置.
type DynamoDBConfig struct {
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // 本地開發可指向 dynamodb-local.
}

// RedisConfig Redis 配置.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 日誌配置.
type LogConfig struct {
	Dir               string `mapstructure:"dir"`                 // 日誌目錄，未設定時讀 LOG_PATH，再預設 ./logs.
	Level             string `mapstructure:"level"`               // 最低輸出級別，例如 INFO.
	RotationTimeHours int    `mapstructure:"rotation_time_hours"` // 日誌輪轉時間 (小時).
	MaxAgeDays        int    `mapstructure:"max_age_days"`        // 日誌保留天數.
	MaxSizeMB         int    `mapstructure:"max_size_mb"`         // 單個日誌檔案最大大小 (MB).
}

// SecurityConfig 安全配置.
type SecurityConfig struct {
	TLS            TLSConfig            `mapstructure:"tls"`
	Authentication AuthenticationConfig `mapstructure:"authentication"`
	Audit          AuditConfig          `mapstructure:"audit"`
}

// TLSConfig TLS 配置.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

// AuthenticationConfig 認證配置.
type AuthenticationConfig struct {
	JWTEnabled     bool   `mapstructure:"jwt_enabled"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	JWTSecretParam string `mapstructure:"jwt_secret_param"` // SSM 參數名稱，設定時優先於 JWTSecret.
	Issuer         string `mapstructure:"issuer"`
}

// AuditConfig 審計配置.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"`
}

// LimitsConfig 限制配置.
type LimitsConfig struct {
	Request      RequestLimitsConfig    `mapstructure:"request"`
	RateLimiting RateLimitingConfig     `mapstructure:"rate_limiting"`
	Pagination   PaginationLimitsConfig `mapstructure:"pagination"`
}

// RequestLimitsConfig 請求限制配置.
type RequestLimitsConfig struct {
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// RateLimitingConfig Rate Limiting 配置.
type RateLimitingConfig struct {
	Enabled                bool   `mapstructure:"enabled"`
	Backend                string `mapstructure:"backend"`
	DefaultPerMinute       int    `mapstructure:"default_per_minute"`
	ViewsPerMinute         int    `mapstructure:"views_per_minute"`
	ScreenshotsPerMinute   int    `mapstructure:"screenshots_per_minute"`
	NotificationsPerMinute int    `mapstructure:"notifications_per_minute"`
}

// PaginationLimitsConfig 分頁限制配置.
type PaginationLimitsConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// SnapConfig 閱後即焚觀看策略.
type SnapConfig struct {
	MinViewingSeconds       int  `mapstructure:"min_viewing_seconds"`
	MaxViewingSeconds       int  `mapstructure:"max_viewing_seconds"`
	MaxReplays              int  `mapstructure:"max_replays"` // 單則訊息允許的重播上限，0 表示不限制.
	ReplaysEnabled          bool `mapstructure:"replays_enabled"`
	AuthorizeTimeoutSeconds int  `mapstructure:"authorize_timeout_seconds"`
	ScreenshotSkewSeconds   int  `mapstructure:"screenshot_skew_seconds"`
}

var (
	config *Config
	// ENV 當前環境變數.
	ENV string = "local"
)

// Load 載入設定檔.
func Load(testCfg ...*Config) error {
	// 如果直接傳入配置（主要用於測試），設定並驗證
	if len(testCfg) > 0 && testCfg[0] != nil {
		if err := validateConfig(testCfg[0]); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		config = testCfg[0]
		return nil
	}

	v := viper.New()
	setDefaults(v)

	// 檢查是否有 CONFIG_PATH 環境變數
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
		// 從檔案名稱推斷環境
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	// 允許以 SNAP_DATABASE_DRIVER 這類環境變數覆蓋
	v.SetEnvPrefix("SNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("配置驗證失敗: %w", err)
	}

	config = cfg
	return nil
}

// setDefaults 設定預設值.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.timeout", constants.DefaultRequestTimeout)
	v.SetDefault("database.driver", DriverMongo)
	v.SetDefault("limits.rate_limiting.backend", RateLimitBackendMemory)
	v.SetDefault("snap.min_viewing_seconds", AbsoluteMinViewingSeconds)
	v.SetDefault("snap.max_viewing_seconds", AbsoluteMaxViewingSeconds)
	v.SetDefault("snap.max_replays", 3)
	v.SetDefault("snap.replays_enabled", true)
	v.SetDefault("snap.authorize_timeout_seconds", constants.DefaultAuthorizeTimeoutSeconds)
	v.SetDefault("snap.screenshot_skew_seconds", constants.DefaultScreenshotSkewSeconds)
}

// Get 取得設定.
func Get() *Config {
	return config
}

// Reset 清除已載入的設定（測試用）.
func Reset() {
	config = nil
}

// SetEnv 設定環境.
func SetEnv(env string) {
	ENV = env
}

// GetEnv 取得當前環境.
func GetEnv() string {
	return ENV
}

// validateConfig 驗證配置的有效性
func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("應用程式名稱不能為空")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("應用程式版本不能為空")
	}

	if cfg.Server.Host == "" {
		return fmt.Errorf("伺服器主機不能為空")
	}
	if cfg.Server.Port == "" {
		return fmt.Errorf("伺服器端口不能為空")
	}
	if cfg.Server.Timeout <= 0 {
		return fmt.Errorf("伺服器超時時間必須大於 0")
	}

	if err := validateDatabase(cfg.Database); err != nil {
		return err
	}

	if cfg.Limits.RateLimiting.Enabled {
		switch cfg.Limits.RateLimiting.Backend {
		case "", RateLimitBackendMemory:
		case RateLimitBackendRedis:
			if cfg.Redis.Addr == "" {
				return fmt.Errorf("使用 Redis 速率限制時 redis.addr 不能為空")
			}
		default:
			return fmt.Errorf("未知的速率限制後端: %s", cfg.Limits.RateLimiting.Backend)
		}
	}

	if cfg.Security.Authentication.JWTEnabled &&
		cfg.Security.Authentication.JWTSecret == "" &&
		cfg.Security.Authentication.JWTSecretParam == "" {
		return fmt.Errorf("啟用 JWT 時必須設定 jwt_secret 或 jwt_secret_param")
	}

	if err := validateSnap(cfg.Snap); err != nil {
		return err
	}

	if cfg.Log.RotationTimeHours <= 0 {
		return fmt.Errorf("日誌輪轉時間必須大於 0")
	}
	if cfg.Log.MaxAgeDays <= 0 {
		return fmt.Errorf("日誌保留天數必須大於 0")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("日誌檔案最大大小必須大於 0")
	}
	switch strings.ToUpper(cfg.Log.Level) {
	case "", "DEBUG", "INFO", "NOTICE", "WARNING", "ERROR":
	default:
		return fmt.Errorf("未知的日誌級別: %s", cfg.Log.Level)
	}

	return nil
}

func validateDatabase(db DatabaseConfig) error {
	switch db.Driver {
	case DriverMongo:
		if db.Mongo.URL == "" {
			return fmt.Errorf("MongoDB URL 不能為空")
		}
		if db.Mongo.Database == "" {
			return fmt.Errorf("MongoDB 資料庫名稱不能為空")
		}
		if db.Mongo.MaxPoolSize == 0 {
			return fmt.Errorf("MongoDB 最大連接池大小必須大於 0")
		}
		if db.Mongo.MinPoolSize > db.Mongo.MaxPoolSize {
			return fmt.Errorf("MongoDB 最小連接池大小不能大於最大連接池大小")
		}
	case DriverPostgres:
		if db.Postgres.DSN == "" {
			return fmt.Errorf("PostgreSQL DSN 不能為空")
		}
		if db.Postgres.MaxIdleConns > db.Postgres.MaxOpenConns && db.Postgres.MaxOpenConns > 0 {
			return fmt.Errorf("PostgreSQL 閒置連線數不能大於最大連線數")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("未知的資料庫驅動: %s", db.Driver)
	}

	switch db.Ledger {
	case "":
	case LedgerDynamoDB:
		if db.DynamoDB.Table == "" {
			return fmt.Errorf("DynamoDB 觀看帳本資料表名稱不能為空")
		}
	default:
		return fmt.Errorf("未知的觀看帳本後端: %s", db.Ledger)
	}

	return nil
}

func validateSnap(s SnapConfig) error {
	if s.MinViewingSeconds < AbsoluteMinViewingSeconds || s.MaxViewingSeconds > AbsoluteMaxViewingSeconds {
		return fmt.Errorf("觀看秒數範圍必須介於 %d 到 %d 之間", AbsoluteMinViewingSeconds, AbsoluteMaxViewingSeconds)
	}
	if s.MinViewingSeconds > s.MaxViewingSeconds {
		return fmt.Errorf("最短觀看秒數不能大於最長觀看秒數")
	}
	if s.MaxReplays < 0 {
		return fmt.Errorf("重播次數上限不能為負數")
	}
	if s.AuthorizeTimeoutSeconds <= 0 {
		return fmt.Errorf("授權逾時必須大於 0")
	}
	if s.ScreenshotSkewSeconds < 0 {
		return fmt.Errorf("截圖時間容許誤差不能為負數")
	}
	return nil
}

// IsDebug 檢查是否為除錯模式
func IsDebug() bool {
	if config != nil {
		return config.App.Debug
	}
	return false
}

// GetServerAddr 取得伺服器地址
func GetServerAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	}
	return "localhost:8080"
}

// GetGRPCAddr 取得 gRPC 伺服器地址
func GetGRPCAddr() string {
	if config != nil && config.GRPC.Port != "" {
		return fmt.Sprintf("%s:%s", config.GRPC.Host, config.GRPC.Port)
	}
	return "localhost:8081"
}
