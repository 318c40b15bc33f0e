package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"snap-gateway/internal/grpc/snapv1"
	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/platform/middleware"
	"snap-gateway/internal/snap"
	"snap-gateway/internal/snapview"
)

// Server gRPC 服務器
type Server struct {
	grpcServer *grpc.Server
	svc        *snapview.Service
}

// NewServer 創建新的 gRPC 服務器
func NewServer(svc *snapview.Service, auth *middleware.Authenticator, tlsConfig config.TLSConfig) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("snapview service is required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	ctx := context.Background()

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(loggingInterceptor(), auth.GRPCUnaryInterceptor()),
	}

	// 根據 TLS 配置決定是否啟用 TLS
	if tlsConfig.Enabled {
		tlsCreds, err := loadTLSCredentials(tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(tlsCreds))
		logger.Info(ctx, "gRPC TLS 已啟用")
	} else {
		logger.Info(ctx, "gRPC 以非加密模式運行（開發環境）")
	}

	server := &Server{
		grpcServer: grpc.NewServer(opts...),
		svc:        svc,
	}

	// 註冊服務
	snapv1.RegisterSnapViewServiceServer(server.grpcServer, server)

	logger.Infof(ctx, "gRPC 服務器初始化 - 服務: %s, TLS: %v", snapv1.ServiceName, tlsConfig.Enabled)
	return server, nil
}

// loadTLSCredentials 載入 TLS 憑證
func loadTLSCredentials(tlsConfig config.TLSConfig) (credentials.TransportCredentials, error) {
	serverCert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}

	// 如果有 CA 文件，啟用客戶端證書驗證
	if tlsConfig.CAFile != "" {
		certPool := x509.NewCertPool()
		ca, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		if ok := certPool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("failed to append CA certs")
		}
		cfg.ClientCAs = certPool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return credentials.NewTLS(cfg), nil
}

// Start 啟動 gRPC 服務器
func (s *Server) Start(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	logger.Infof(context.Background(), "gRPC 服務器啟動在端口 %s", port)
	return s.Serve(lis)
}

// Serve 在指定 listener 上提供服務.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop 停止 gRPC 服務器
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// loggingInterceptor 記錄每個 RPC 的方法、狀態碼與耗時.
func loggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		details := map[string]interface{}{
			"method":     info.FullMethod,
			"code":       code.String(),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if code == codes.Internal || code == codes.Unknown {
			logger.Error(ctx, "gRPC 請求失敗", logger.WithAction("grpc"), logger.WithDetails(details))
		} else {
			logger.Debug(ctx, "gRPC 請求完成", logger.WithAction("grpc"), logger.WithDetails(details))
		}
		return resp, err
	}
}

// caller 決定操作的使用者. 請求帶的 ID 必須與已認證的呼叫者一致.
func caller(ctx context.Context, requested string) (string, error) {
	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return "", snap.NewError(snap.ReasonForbidden, "caller is not authenticated", nil)
	}
	if requested != "" && requested != userID {
		return "", snap.NewError(snap.ReasonForbidden, "cannot act on behalf of another user", nil)
	}
	return userID, nil
}

// CanViewSnap 唯讀預檢.
func (s *Server) CanViewSnap(ctx context.Context, req *snapv1.CanViewSnapRequest) (*snapv1.CanViewSnapResponse, error) {
	viewerID, err := caller(ctx, req.ViewerID)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	res, err := s.svc.CanView(ctx, req.MessageID, viewerID)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	return &snapv1.CanViewSnapResponse{
		CanView:         res.CanView,
		IsFirstView:     res.IsFirstView,
		ReplayCount:     res.ReplayCount,
		MaxReplays:      res.MaxReplays,
		ViewingDuration: res.ViewingDuration,
		Error:           res.Reason,
	}, nil
}

// RecordSnapView 授權並消耗一次觀看.
func (s *Server) RecordSnapView(ctx context.Context, req *snapv1.RecordSnapViewRequest) (*snapv1.ViewResponse, error) {
	viewerID, err := caller(ctx, req.ViewerID)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	res, err := s.svc.RecordView(ctx, req.MessageID, viewerID, req.ViewingStartedAt, req.IsReplay)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	return toViewResponse(res), nil
}

// IncrementSnapReplay 消耗一次重播額度.
func (s *Server) IncrementSnapReplay(ctx context.Context, req *snapv1.IncrementSnapReplayRequest) (*snapv1.ViewResponse, error) {
	viewerID, err := caller(ctx, req.ViewerID)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	res, err := s.svc.IncrementReplay(ctx, req.MessageID, viewerID)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	return toViewResponse(res), nil
}

func toViewResponse(res snapview.ViewResult) *snapv1.ViewResponse {
	return &snapv1.ViewResponse{
		Success:     res.Success,
		ReplayCount: res.ReplayCount,
		CanReplay:   res.CanReplay,
		Error:       res.Reason,
		Decision:    res.Decision,
	}
}

// RecordSnapScreenshot 記錄截圖並通知發送者.
func (s *Server) RecordSnapScreenshot(ctx context.Context, req *snapv1.RecordSnapScreenshotRequest) (*snapv1.RecordSnapScreenshotResponse, error) {
	screenshotterID, err := caller(ctx, req.ScreenshotterID)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	event, err := s.svc.RecordScreenshot(ctx, req.MessageID, screenshotterID, req.ScreenshotTimestamp)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	return &snapv1.RecordSnapScreenshotResponse{Success: true, NotificationSent: true, Event: event}, nil
}

// GetScreenshotNotifications 列出呼叫者收到的截圖通知.
func (s *Server) GetScreenshotNotifications(ctx context.Context, req *snapv1.GetScreenshotNotificationsRequest) (*snapv1.GetScreenshotNotificationsResponse, error) {
	ownerID, err := caller(ctx, req.OwnerID)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	page, err := s.svc.GetScreenshotNotifications(ctx, ownerID, snapview.NotificationQuery{
		UnreadOnly: req.UnreadOnly,
		Limit:      req.Limit,
		Cursor:     req.Cursor,
	})
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	return &snapv1.GetScreenshotNotificationsResponse{
		Notifications: page.Events,
		NextCursor:    page.NextCursor,
		HasMore:       page.HasMore,
	}, nil
}

// AcknowledgeScreenshotNotifications 將通知標記為已讀.
func (s *Server) AcknowledgeScreenshotNotifications(ctx context.Context, req *snapv1.AcknowledgeScreenshotNotificationsRequest) (*snapv1.AcknowledgeScreenshotNotificationsResponse, error) {
	ownerID, err := caller(ctx, req.OwnerID)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	n, err := s.svc.AcknowledgeScreenshotNotifications(ctx, ownerID, req.IDs)
	if err != nil {
		return nil, snapv1.StatusError(err)
	}
	return &snapv1.AcknowledgeScreenshotNotificationsResponse{Acknowledged: n}, nil
}
