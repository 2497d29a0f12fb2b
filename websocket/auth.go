package websocket

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Halldon-Inc/moltblox-realtime/config"
	"github.com/Halldon-Inc/moltblox-realtime/store"
)

var (
	// ErrTokenInvalid covers parse, signature and expiry failures.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrTokenRevoked means the token's jti is on the revocation list.
	ErrTokenRevoked = errors.New("auth: token revoked")
)

// PlayerClaims are the claims carried by a player token. Subject is the
// player id; the jti enables revocation.
type PlayerClaims struct {
	jwt.RegisteredClaims
}

// PlayerID returns the authenticated player id.
func (c *PlayerClaims) PlayerID() string {
	return c.Subject
}

// Validator verifies signed player tokens and checks the revocation
// list kept in the shared store.
type Validator struct {
	cfg    *config.AuthConfig
	store  store.Store
	logger *zap.Logger
}

func NewValidator(cfg *config.AuthConfig, s store.Store, logger *zap.Logger) *Validator {
	return &Validator{cfg: cfg, store: s, logger: logger}
}

// ValidateToken parses and validates a token string: signature (HMAC
// only), registered claims, then the revocation list.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*PlayerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PlayerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*PlayerClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	revoked, err := v.isTokenRevoked(ctx, claims.ID)
	if err != nil {
		// Fail open: a store outage must not lock every player out.
		v.logger.Error("failed to check token revocation", zap.Error(err))
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

func (v *Validator) isTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		v.logger.Warn("token missing jti claim, revocation not checkable")
		return false, nil
	}
	return v.store.Exists(ctx, fmt.Sprintf("%s:%s", v.cfg.RevocationListKey, jti))
}
