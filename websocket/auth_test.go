package websocket

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Halldon-Inc/moltblox-realtime/config"
	"github.com/Halldon-Inc/moltblox-realtime/store"
)

const testSecret = "test-secret-please-rotate"

func newTestValidator(t *testing.T) (*Validator, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	cfg := &config.AuthConfig{
		JWTSecret:         testSecret,
		RevocationListKey: "auth:revoked",
	}
	return NewValidator(cfg, s, zap.NewNop()), s
}

func signToken(t *testing.T, secret string, claims PlayerClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func playerClaims(playerID, jti string, expiresIn time.Duration) PlayerClaims {
	return PlayerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestValidator_ValidToken(t *testing.T) {
	v, _ := newTestValidator(t)

	tokenStr := signToken(t, testSecret, playerClaims("player-1", "jti-1", time.Hour))

	claims, err := v.ValidateToken(context.Background(), tokenStr)
	require.NoError(t, err)
	assert.Equal(t, "player-1", claims.PlayerID())
}

func TestValidator_BadSignature(t *testing.T) {
	v, _ := newTestValidator(t)

	tokenStr := signToken(t, "wrong-secret", playerClaims("player-1", "jti-1", time.Hour))

	_, err := v.ValidateToken(context.Background(), tokenStr)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidator_ExpiredToken(t *testing.T) {
	v, _ := newTestValidator(t)

	tokenStr := signToken(t, testSecret, playerClaims("player-1", "jti-1", -time.Minute))

	_, err := v.ValidateToken(context.Background(), tokenStr)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidator_MissingSubject(t *testing.T) {
	v, _ := newTestValidator(t)

	tokenStr := signToken(t, testSecret, playerClaims("", "jti-1", time.Hour))

	_, err := v.ValidateToken(context.Background(), tokenStr)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidator_RevokedToken(t *testing.T) {
	v, s := newTestValidator(t)

	require.NoError(t, s.Set(context.Background(), fmt.Sprintf("auth:revoked:%s", "jti-1"), "1", time.Hour))

	tokenStr := signToken(t, testSecret, playerClaims("player-1", "jti-1", time.Hour))

	_, err := v.ValidateToken(context.Background(), tokenStr)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestValidator_GarbageToken(t *testing.T) {
	v, _ := newTestValidator(t)

	_, err := v.ValidateToken(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
