package grpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"snap-gateway/internal/grpc/snapv1"
	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/snap"
	"snap-gateway/internal/viewer"
)

var (
	conn *grpc.ClientConn
	mu   sync.RWMutex
)

// GetConnection 獲取或創建 gRPC 客戶端連接（單例模式）
// 自動從配置讀取地址
func GetConnection() (*grpc.ClientConn, error) {
	mu.RLock()
	if conn != nil {
		mu.RUnlock()
		return conn, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// 再次檢查（雙重檢查鎖定）
	if conn != nil {
		return conn, nil
	}

	cfg := config.Get()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	address := fmt.Sprintf("%s:%s", cfg.GRPC.Host, cfg.GRPC.Port)
	c, err := Dial(address, cfg.Security.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server at %s: %w", address, err)
	}
	conn = c
	return conn, nil
}

// Dial 依 TLS 設定建立連接.
func Dial(address string, tlsConfig config.TLSConfig) (*grpc.ClientConn, error) {
	if tlsConfig.Enabled {
		return dialWithTLS(address, tlsConfig)
	}
	return dialInsecure(address)
}

// dialWithTLS 使用 TLS 連接
func dialWithTLS(address string, tlsConfig config.TLSConfig) (*grpc.ClientConn, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if tlsConfig.CAFile != "" {
		ca, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("failed to append CA cert")
		}
		cfg.RootCAs = certPool
	}

	// 如果有客戶端證書（雙向 TLS）
	if tlsConfig.CertFile != "" && tlsConfig.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return grpc.NewClient(address, grpc.WithTransportCredentials(credentials.NewTLS(cfg)))
}

// dialInsecure 不使用 TLS 連接（僅開發環境）
func dialInsecure(address string) (*grpc.ClientConn, error) {
	logger.Warning(context.Background(), "gRPC 使用不安全連接（開發環境）")
	return grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// CloseConnection 關閉 gRPC 連接
func CloseConnection() error {
	mu.Lock()
	defer mu.Unlock()

	if conn != nil {
		err := conn.Close()
		conn = nil
		return err
	}
	return nil
}

// Credentials 呼叫者身分. Token 為空時改帶 x-user-id（伺服器停用 JWT 時）.
type Credentials struct {
	UserID string
	Token  string
}

// Client 以觀看者身分呼叫 SnapViewService.
type Client struct {
	api   snapv1.SnapViewServiceClient
	creds Credentials
	now   func() time.Time
}

var (
	_ viewer.Authorizer         = (*Client)(nil)
	_ viewer.ScreenshotReporter = (*Client)(nil)
)

// New 建立客戶端.
func New(cc grpc.ClientConnInterface, creds Credentials) *Client {
	return &Client{
		api:   snapv1.NewSnapViewServiceClient(cc),
		creds: creds,
		now:   time.Now,
	}
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.creds.Token != "" {
		return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.creds.Token)
	}
	return metadata.AppendToOutgoingContext(ctx, "x-user-id", c.creds.UserID)
}

// toError 將 gRPC 錯誤還原為帶原因碼的錯誤，無法判斷的傳輸錯誤視為 transient_network.
func toError(op string, err error) error {
	reason := snapv1.ReasonFromError(err)
	detail := op
	if st, ok := status.FromError(err); ok {
		detail = op + ": " + st.Code().String()
	}
	return snap.NewError(reason, detail, err)
}

// Authorize 呼叫 RecordSnapView 取得授權並消耗觀看額度.
func (c *Client) Authorize(ctx context.Context, messageID string, intent snap.Intent) (snap.Decision, error) {
	resp, err := c.api.RecordSnapView(c.outgoing(ctx), &snapv1.RecordSnapViewRequest{
		MessageID:        messageID,
		ViewingStartedAt: c.now().UTC(),
		IsReplay:         intent == snap.IntentReplay,
	})
	if err != nil {
		return snap.Decision{}, toError("RecordSnapView", err)
	}
	dec := resp.Decision
	if !resp.Success {
		dec.Granted = false
		if dec.Reason == "" {
			dec.Reason = resp.Error
		}
	}
	return dec, nil
}

// ReportScreenshot 回報截圖.
func (c *Client) ReportScreenshot(ctx context.Context, messageID string, at time.Time) error {
	_, err := c.api.RecordSnapScreenshot(c.outgoing(ctx), &snapv1.RecordSnapScreenshotRequest{
		MessageID:           messageID,
		ScreenshotTimestamp: at.UTC(),
	})
	if err != nil {
		return toError("RecordSnapScreenshot", err)
	}
	return nil
}

// CanView 觀看前的唯讀預檢.
func (c *Client) CanView(ctx context.Context, messageID string) (*snapv1.CanViewSnapResponse, error) {
	resp, err := c.api.CanViewSnap(c.outgoing(ctx), &snapv1.CanViewSnapRequest{MessageID: messageID})
	if err != nil {
		return nil, toError("CanViewSnap", err)
	}
	return resp, nil
}

// IncrementReplay 明確消耗一次重播額度.
func (c *Client) IncrementReplay(ctx context.Context, messageID string) (*snapv1.ViewResponse, error) {
	resp, err := c.api.IncrementSnapReplay(c.outgoing(ctx), &snapv1.IncrementSnapReplayRequest{MessageID: messageID})
	if err != nil {
		return nil, toError("IncrementSnapReplay", err)
	}
	return resp, nil
}

// Notifications 查詢自己訊息上的截圖通知.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool, limit int, cursor string) (*snapv1.GetScreenshotNotificationsResponse, error) {
	resp, err := c.api.GetScreenshotNotifications(c.outgoing(ctx), &snapv1.GetScreenshotNotificationsRequest{
		UnreadOnly: unreadOnly,
		Limit:      limit,
		Cursor:     cursor,
	})
	if err != nil {
		return nil, toError("GetScreenshotNotifications", err)
	}
	return resp, nil
}

// Acknowledge 將截圖通知標記為已讀.
func (c *Client) Acknowledge(ctx context.Context, ids []string) (int, error) {
	resp, err := c.api.AcknowledgeScreenshotNotifications(c.outgoing(ctx), &snapv1.AcknowledgeScreenshotNotificationsRequest{IDs: ids})
	if err != nil {
		return 0, toError("AcknowledgeScreenshotNotifications", err)
	}
	return resp.Acknowledged, nil
}
