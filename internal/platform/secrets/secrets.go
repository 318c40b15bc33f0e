// Package secrets 從 AWS SSM Parameter Store 讀取敏感設定（例如 JWT 密鑰）.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI *ssm.Client 即滿足.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter 依名稱取得參數值.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ParameterStore 以 SSM 實作 Getter，SecureString 一律解密.
type ParameterStore struct {
	api ssmAPI
}

// NewParameterStore 建立 ParameterStore.
func NewParameterStore(api ssmAPI) (*ParameterStore, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &ParameterStore{api: api}, nil
}

// GetParameter 取得單一參數.
func (p *ParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	if p == nil || p.api == nil {
		return "", errors.New("secrets: parameter store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: parameter name is required")
	}

	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// Resolve 設定了 param 時從 Parameter Store 讀取，否則使用設定檔中的 inline 值.
// 兩者皆空時回傳空字串，由呼叫端決定是否為錯誤.
func Resolve(ctx context.Context, g Getter, inline, param string) (string, error) {
	if strings.TrimSpace(param) == "" {
		return strings.TrimSpace(inline), nil
	}
	if g == nil {
		return "", fmt.Errorf("secrets: %q requested but no parameter store configured", param)
	}
	v, err := g.GetParameter(ctx, param)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}
