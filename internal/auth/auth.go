package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidToken 表示令牌缺失、格式错误或未通过校验。
var ErrInvalidToken = errors.New("invalid token")

// Authenticator 把客户端提交的令牌解析为用户身份。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// APIKeys 以 API Key 本身作为身份，沿用早期的 ApiKey 鉴权方式。
type APIKeys struct {
	keys map[string]struct{}
}

func NewAPIKeys(keys []string) *APIKeys {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		trimmed := strings.TrimSpace(key)
		if trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return &APIKeys{keys: set}
}

func (a *APIKeys) Authenticate(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	if _, ok := a.keys[token]; !ok {
		return "", ErrInvalidToken
	}
	return token, nil
}

// Insecure 直接信任令牌内容作为身份，仅用于本地开发（AUTH_MODE=none）。
type Insecure struct{}

func (Insecure) Authenticate(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
