// services/jwt.go
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenSignature = errors.New("token signature is invalid")
	ErrTokenExpired   = errors.New("token is expired")
	ErrTokenRevoked   = errors.New("token is revoked")
)

type SessionClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// JWTService issues and verifies signed session tokens. Every token carries
// a unique jti so a single session can be killed before its expiry.
type JWTService struct {
	appContext.DefaultService

	redisSvc *RedisService

	secret     []byte
	issuer     string
	sessionTTL time.Duration
	store      RevocationStore
	now        func() time.Time
}

const JWT_SVC = "jwt_svc"

func (svc JWTService) Id() string {
	return JWT_SVC
}

func (svc *JWTService) Configure(ctx *appContext.Context) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	svc.secret = []byte(secret)
	svc.issuer = envString("JWT_ISSUER", "hanmadi_api")
	svc.sessionTTL = envDuration("SESSION_TTL", 24*time.Hour)
	svc.now = time.Now
	return svc.DefaultService.Configure(ctx)
}

func (svc *JWTService) Start() error {
	if os.Getenv("LIMITER_BACKEND") == "redis" {
		redisSvc, ok := svc.Service(REDIS_SVC).(*RedisService)
		if ok && redisSvc != nil && redisSvc.GetClient() != nil {
			svc.redisSvc = redisSvc
			svc.store = NewRedisRevocationStore(redisSvc.GetClient())
			return nil
		}
		log.Warn("Redis unavailable, token revocation using in-memory store")
	}
	svc.store = NewMemoryRevocationStore()
	return nil
}

func (svc *JWTService) SessionTTL() time.Duration {
	return svc.sessionTTL
}

// Issue mints a session token for the given identity.
func (svc *JWTService) Issue(userID, email, name string) (string, *SessionClaims, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return "", nil, err
	}

	now := svc.now()
	claims := &SessionClaims{
		UserID: userID,
		Email:  email,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    svc.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(svc.sessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(svc.secret)
	if err != nil {
		return "", nil, err
	}
	tokensIssuedTotal.Inc()
	return signed, claims, nil
}

// Verify checks signature, expiry and revocation, in that order. A token
// that fails an earlier check never reaches the revocation lookup.
func (svc *JWTService) Verify(ctx context.Context, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return svc.secret, nil
	}, jwt.WithTimeFunc(svc.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenMalformed
		}
	}

	revoked, err := svc.store.IsRevoked(ctx, claims.ID, svc.now())
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke kills the session with the given jti until the token's own expiry.
func (svc *JWTService) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := svc.store.Revoke(ctx, jti, expiresAt); err != nil {
		return err
	}
	tokensRevokedTotal.Inc()
	return nil
}

// Sweep drops revocation entries whose tokens have expired anyway.
func (svc *JWTService) Sweep(ctx context.Context, now time.Time) (int, error) {
	return svc.store.Sweep(ctx, now)
}

// ExtractTokenFromHeader pulls the bearer token out of an Authorization
// header value. Returns "" when the header is absent or not bearer-shaped.
func ExtractTokenFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
