package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"snap-gateway/internal/security/audit"
	"snap-gateway/internal/snap"
)

// UserIDHeader 停用 JWT 時（僅開發環境）信任的呼叫者標頭.
const UserIDHeader = "X-User-ID"

// userIDKey 呼叫者身分在 context 中的 key.
type userIDKey struct{}

// TokenValidator 驗證 token 並回傳使用者 ID.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}

// ContextWithUserID 將已驗證的呼叫者放入 context.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext 取出已驗證的呼叫者.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

// GetUserID 從 gin.Context 取出已驗證的呼叫者.
func GetUserID(c *gin.Context) string {
	id, _ := UserIDFromContext(c.Request.Context())
	return id
}

// JWTValidator 以 HS256 共享密鑰驗證 token，sub 即使用者 ID.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator 建立 JWT 驗證器.
func NewJWTValidator(secret, issuer string) (*JWTValidator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTValidator{secret: []byte(secret), issuer: issuer}, nil
}

// ValidateToken 驗證簽章、有效期與 issuer.
func (v *JWTValidator) ValidateToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if err := snap.ValidateID("sub", claims.Subject); err != nil {
		return "", fmt.Errorf("invalid token subject: %w", err)
	}
	return claims.Subject, nil
}

// IssueToken 簽發 token，供開發工具與測試使用.
func (v *JWTValidator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(v.secret)
}

// Authenticator HTTP 與 gRPC 共用的呼叫者認證.
// validator 為 nil 時代表 JWT 停用，改信任 X-User-ID（僅開發環境）.
type Authenticator struct {
	validator TokenValidator
	audit     *audit.AuditService
}

// NewAuthenticator 創建認證器.
func NewAuthenticator(validator TokenValidator, auditService *audit.AuditService) *Authenticator {
	return &Authenticator{validator: validator, audit: auditService}
}

// authenticate 由 Authorization 值或開發用標頭解析出使用者 ID.
func (a *Authenticator) authenticate(authorization, devUserID string) (string, error) {
	if a.validator == nil {
		if err := snap.ValidateID("user_id", devUserID); err != nil {
			return "", errors.New("未提供使用者身分")
		}
		return devUserID, nil
	}

	if authorization == "" {
		return "", errors.New("未提供認證 token")
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("無效的認證格式")
	}
	userID, err := a.validator.ValidateToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", errors.New("認證失敗")
	}
	return userID, nil
}

// GinMiddleware Gin HTTP 中間件
// 使用方式：router.Use(authenticator.GinMiddleware())
func (a *Authenticator) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := a.authenticate(c.GetHeader("Authorization"), c.GetHeader(UserIDHeader))
		if err != nil {
			a.audit.LogAuthenticationFailure(c.Request.Context(), "", err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":      err.Error(),
				"success":    false,
				"request_id": GetRequestID(c),
			})
			return
		}

		c.Request = c.Request.WithContext(ContextWithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// GRPCUnaryInterceptor gRPC 一元 RPC 攔截器
// 使用方式：grpc.NewServer(grpc.ChainUnaryInterceptor(authenticator.GRPCUnaryInterceptor()))
func (a *Authenticator) GRPCUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		userID, err := a.authenticate(firstValue(md, "authorization"), firstValue(md, strings.ToLower(UserIDHeader)))
		if err != nil {
			a.audit.LogAuthenticationFailure(ctx, "", err.Error())
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ContextWithUserID(ctx, userID), req)
	}
}

func firstValue(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
