package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyHMAC(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, "u1", time.Minute)
	require.NoError(t, err)

	v, err := NewJWTVerifier(string(secret), "", nil)
	require.NoError(t, err)
	defer v.Close()

	id, err := v.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestVerifyHMAC_Rejections(t *testing.T) {
	v, err := NewJWTVerifier("test-secret", "", nil)
	require.NoError(t, err)
	ctx := context.Background()

	wrong, err := IssueToken([]byte("other-secret"), "u1", time.Minute)
	require.NoError(t, err)
	_, err = v.Authenticate(ctx, wrong)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken([]byte("test-secret"), "u1", -time.Minute)
	require.NoError(t, err)
	_, err = v.Authenticate(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Authenticate(ctx, "not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"})
	raw, err := noExpiry.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = v.Authenticate(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueToken_Validation(t *testing.T) {
	_, err := IssueToken(nil, "u1", time.Minute)
	assert.Error(t, err)
	_, err = IssueToken([]byte("s"), "", time.Minute)
	assert.Error(t, err)
}

func TestNewJWTVerifier_RequiresKeyMaterial(t *testing.T) {
	_, err := NewJWTVerifier("", "", nil)
	assert.Error(t, err)
}

func TestVerifyJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	defer srv.Close()

	v, err := NewJWTVerifier("", srv.URL, nil)
	require.NoError(t, err)
	defer v.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	token.Header["kid"] = "test-key"
	raw, err := token.SignedString(key)
	require.NoError(t, err)

	id, err := v.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "u9", id)

	// 未配置密钥时不接受 HMAC 令牌
	hmacToken, err := IssueToken([]byte("whatever"), "u9", time.Minute)
	require.NoError(t, err)
	_, err = v.Authenticate(context.Background(), hmacToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAPIKeys(t *testing.T) {
	a := NewAPIKeys([]string{" key-1 ", "", "key-2"})
	ctx := context.Background()

	id, err := a.Authenticate(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", id)

	_, err = a.Authenticate(ctx, "key-3")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = a.Authenticate(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestInsecure(t *testing.T) {
	id, err := Insecure{}.Authenticate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = Insecure{}.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
