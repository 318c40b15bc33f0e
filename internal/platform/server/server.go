package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	snapgrpc "snap-gateway/internal/grpc"
	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/driver"
	"snap-gateway/internal/platform/health"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/platform/middleware"
	"snap-gateway/internal/platform/secrets"
	"snap-gateway/internal/security/audit"
	"snap-gateway/internal/snapview"
	"snap-gateway/internal/storage/database"
)

const shutdownTimeout = 30 * time.Second

// Start 啟動 HTTP 與 gRPC 伺服器，直到收到 SIGINT/SIGTERM.
func Start() error {
	// 載入設定（日誌輪轉設定來自設定檔）
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()
	logger.Infof(ctx, "正在啟動 %s %s，環境: %s", cfg.App.Name, cfg.App.Version, config.GetEnv())

	closeDrivers, checks, err := ConnectDrivers(ctx, cfg)
	if err != nil {
		logger.Errorf(ctx, "資料庫連接失敗: %v", err)
		return err
	}
	defer closeDrivers()

	repos, err := database.NewRepositories(ctx, cfg)
	if err != nil {
		logger.Errorf(ctx, "儲存庫初始化失敗: %v", err)
		return err
	}

	auditService := audit.NewAuditService(cfg.Security.Audit.Enabled)
	svc, err := NewService(cfg, repos, auditService)
	if err != nil {
		return err
	}

	authenticator, err := NewAuthenticator(ctx, cfg, auditService)
	if err != nil {
		logger.Errorf(ctx, "認證初始化失敗: %v", err)
		return err
	}

	// gRPC
	grpcServer, err := snapgrpc.NewServer(svc, authenticator, cfg.Security.TLS)
	if err != nil {
		logger.Errorf(ctx, "gRPC 服務器創建失敗: %v", err)
		return fmt.Errorf("server initialization failed")
	}

	// HTTP
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := Dependencies{
		Service:       svc,
		Authenticator: authenticator,
		Audit:         auditService,
		Health:        health.NewHealthHandler(checks...),
	}
	if client := driver.GetRedisClient(); client != nil {
		deps.Redis = client
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           Router(cfg, deps),
		ReadTimeout:       time.Duration(cfg.Server.Timeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.Timeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.Server.UseHTTPS {
		tlsConfig, err := newTLSConfig(cfg.Server.CertPath, cfg.Server.KeyPath)
		if err != nil {
			return err
		}
		httpServer.TLSConfig = tlsConfig
	}

	errCh := make(chan error, 2)
	go func() {
		if err := grpcServer.Start(cfg.GRPC.Port); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		logger.Infof(ctx, "伺服器正在監聽埠口: %s", cfg.Server.Port)
		var err error
		if cfg.Server.UseHTTPS {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	// 等待關閉信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Infof(ctx, "收到關閉信號 %s，正在優雅關閉伺服器...", sig)
	case runErr = <-errCh:
		logger.Errorf(ctx, "伺服器啟動失敗: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(ctx, "HTTP 伺服器關閉失敗: %v", err)
	}
	grpcServer.Stop()

	logger.Info(ctx, "伺服器已優雅關閉", logger.WithAction("shutdown"))
	return runErr
}

// ConnectDrivers 依設定連接資料庫與 Redis，回傳關閉函式與健康檢查項目.
func ConnectDrivers(ctx context.Context, cfg *config.Config) (func(), []health.Check, error) {
	var closers []func()
	var checks []health.Check
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Database.Driver {
	case config.DriverMongo:
		if err := driver.InitMongo(ctx, cfg.Database.Mongo); err != nil {
			return closeAll, nil, err
		}
		closers = append(closers, func() {
			if err := driver.CloseMongo(context.Background()); err != nil {
				logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
			}
		})
		checks = append(checks, health.Check{Name: "mongo", Ping: driver.PingMongo})

	case config.DriverPostgres:
		if err := driver.InitPostgres(ctx, cfg.Database.Postgres); err != nil {
			return closeAll, nil, err
		}
		closers = append(closers, func() {
			if err := driver.ClosePostgres(); err != nil {
				logger.Errorf(ctx, "關閉 PostgreSQL 連接失敗: %v", err)
			}
		})
		checks = append(checks, health.Check{Name: "postgres", Ping: driver.PingPostgres})
	}

	rl := cfg.Limits.RateLimiting
	if rl.Enabled && rl.Backend == config.RateLimitBackendRedis {
		if err := driver.InitRedis(ctx, cfg.Redis); err != nil {
			closeAll()
			return func() {}, nil, err
		}
		closers = append(closers, func() {
			if err := driver.CloseRedis(); err != nil {
				logger.Errorf(ctx, "關閉 Redis 連接失敗: %v", err)
			}
		})
		checks = append(checks, health.Check{Name: "redis", Ping: driver.PingRedis})
	}

	return closeAll, checks, nil
}

// PolicyFromConfig 將設定轉為服務端觀看策略.
func PolicyFromConfig(cfg config.SnapConfig) snapview.Policy {
	policy := snapview.DefaultPolicy()
	if cfg.MinViewingSeconds > 0 {
		policy.Bounds.MinViewingSeconds = cfg.MinViewingSeconds
	}
	if cfg.MaxViewingSeconds > 0 {
		policy.Bounds.MaxViewingSeconds = cfg.MaxViewingSeconds
	}
	policy.Bounds.MaxReplays = cfg.MaxReplays
	policy.ReplaysEnabled = cfg.ReplaysEnabled
	if cfg.ScreenshotSkewSeconds > 0 {
		policy.ScreenshotSkew = time.Duration(cfg.ScreenshotSkewSeconds) * time.Second
	}
	return policy
}

// NewService 以倉儲與設定建立觀看授權服務.
func NewService(cfg *config.Config, repos *database.Repositories, auditService *audit.AuditService) (*snapview.Service, error) {
	return snapview.NewService(repos.Stores, PolicyFromConfig(cfg.Snap), snapview.WithAudit(auditService))
}

// NewAuthenticator 依設定建立認證器. JWT 密鑰設定了 SSM 參數時從 Parameter Store 讀取.
func NewAuthenticator(ctx context.Context, cfg *config.Config, auditService *audit.AuditService) (*middleware.Authenticator, error) {
	auth := cfg.Security.Authentication
	if !auth.JWTEnabled {
		logger.Warning(ctx, "JWT 認證已停用，信任 "+middleware.UserIDHeader+" 標頭（僅限開發環境）")
		return middleware.NewAuthenticator(nil, auditService), nil
	}

	var getter secrets.Getter
	if auth.JWTSecretParam != "" {
		awsCfg, err := driver.LoadAWSConfig(ctx, cfg.Database.DynamoDB.Region)
		if err != nil {
			return nil, err
		}
		store, err := secrets.NewParameterStore(driver.NewSSMClient(awsCfg))
		if err != nil {
			return nil, err
		}
		getter = store
	}

	secret, err := secrets.Resolve(ctx, getter, auth.JWTSecret, auth.JWTSecretParam)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JWT secret: %w", err)
	}
	validator, err := middleware.NewJWTValidator(secret, auth.Issuer)
	if err != nil {
		return nil, err
	}
	return middleware.NewAuthenticator(validator, auditService), nil
}
