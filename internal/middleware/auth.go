package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"filecollection/internal/auth"
)

// DefaultAuthCookie 是浏览器镜像令牌使用的 Cookie 名称。
const DefaultAuthCookie = "X-Auth-Token"

var errMalformedAuthorization = errors.New("invalid Authorization format, expected: Bearer <token> or ApiKey <token>")

// OwnerContextKey 是存储在 context 中的 owner ID 的键。
type OwnerContextKey struct{}

// Authenticate 创建鉴权中间件。
// 令牌来源依次为 Authorization 头（Bearer 或 ApiKey）与 cookieName 指定的 Cookie。
// optional 为 true 时，未携带令牌的请求以匿名身份继续，由访问规则决定是否拒绝。
func Authenticate(authn auth.Authenticator, cookieName string, optional bool) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultAuthCookie
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := TokenFromRequest(r, cookieName)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err.Error())
				return
			}

			if token == "" {
				if !optional {
					writeAuthError(w, http.StatusUnauthorized, "missing credentials")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ownerID, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := WithOwnerID(r.Context(), ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest 提取请求携带的令牌；没有令牌时返回空串。
func TokenFromRequest(r *http.Request, cookieName string) (string, error) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		for _, prefix := range []string{"Bearer ", "ApiKey "} {
			if strings.HasPrefix(header, prefix) {
				token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
				if token == "" {
					return "", errors.New("empty token")
				}
				return token, nil
			}
		}
		return "", errMalformedAuthorization
	}

	if cookie, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(cookie.Value), nil
	}
	return "", nil
}

// WithOwnerID 把鉴权后的身份写入 context。
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, OwnerContextKey{}, ownerID)
}

// GetOwnerID 从 context 中获取经过鉴权的 owner ID，匿名请求返回空串。
func GetOwnerID(ctx context.Context) string {
	if v, ok := ctx.Value(OwnerContextKey{}).(string); ok {
		return v
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="filecollection"`)
	writeJSONError(w, status, message)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
