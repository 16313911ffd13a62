package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Claims 是签发与校验共用的声明结构，身份保存在 sub 中。
type Claims struct {
	jwt.RegisteredClaims
}

// JWTVerifier 支持 HMAC（本地密钥）与 JWKS（远程公钥）两种校验方式。
type JWTVerifier struct {
	secret []byte
	jwks   *keyfunc.JWKS
	logger *slog.Logger
}

// NewJWTVerifier 创建校验器。jwksURL 非空时初始化 JWKS 并每小时自动刷新。
func NewJWTVerifier(secret, jwksURL string, logger *slog.Logger) (*JWTVerifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &JWTVerifier{logger: logger}
	if secret != "" {
		v.secret = []byte(secret)
	}

	if jwksURL = strings.TrimSpace(jwksURL); jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.Error("jwks refresh failed", "url", jwksURL, "error", err)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init jwks %s: %w", jwksURL, err)
		}
		v.jwks = jwks
		logger.Info("jwks initialized", "url", jwksURL)
	}

	if v.secret == nil && v.jwks == nil {
		return nil, errors.New("jwt verifier needs a secret or a jwks url")
	}
	return v, nil
}

// Authenticate 校验签名与有效期，返回 sub 声明。
func (v *JWTVerifier) Authenticate(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFor, jwt.WithExpirationRequired())
	if err != nil {
		v.logger.Debug("token rejected", "error", err)
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Close 停止 JWKS 后台刷新。
func (v *JWTVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

func (v *JWTVerifier) keyFor(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if v.secret == nil {
			return nil, errors.New("hmac tokens are not accepted")
		}
		return v.secret, nil
	}
	if v.jwks != nil {
		return v.jwks.Keyfunc(token)
	}
	return nil, fmt.Errorf("no key for alg %v", token.Header["alg"])
}

// IssueToken 用 HS256 签发令牌，供开发环境和 CLI 使用。
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret is empty")
	}
	if subject == "" {
		return "", errors.New("subject is empty")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(secret)
}
