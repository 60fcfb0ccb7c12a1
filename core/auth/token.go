package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer        = "hlsrelay"
	audienceAdmin = "hlsrelay-admin"
)

// ErrInvalidToken 运维令牌无效或已过期
var ErrInvalidToken = errors.New("invalid operator token")

// OperatorClaims 运维令牌的声明
type OperatorClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenIssuer 签发和校验 HS256 运维令牌
type TokenIssuer struct {
	key []byte
	now func() time.Time
}

// NewTokenIssuer uses key as the HMAC secret; derive it from the signing secret.
func NewTokenIssuer(key []byte) *TokenIssuer {
	return &TokenIssuer{key: key, now: time.Now}
}

// WithClock 替换时钟，测试用
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

// Issue mints an admin token for subject valid for ttl.
func (t *TokenIssuer) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	now := t.now()
	claims := OperatorClaims{
		Scope: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audienceAdmin},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Parse validates the token and returns its claims.
func (t *TokenIssuer) Parse(token string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audienceAdmin),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Scope != "admin" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
