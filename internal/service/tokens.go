package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "zapinsight"

// Token scopes
const (
	ScopeTrigger = "trigger"
	ScopeRead    = "read"
)

// TriggerClaims authorize callers of the trigger surface.
type TriggerClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenService issues and validates trigger tokens for schedulers and
// operators calling the HTTP surface.
type TokenService struct {
	secret []byte
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret)}
}

// Issue signs a token for subject. ttl <= 0 issues a token without expiry.
func (s *TokenService) Issue(subject, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &TriggerClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   tokenIssuer,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) Validate(tokenString string) (*TriggerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TriggerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*TriggerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// Allows reports whether the token may call an operation needing scope.
// Trigger tokens may also read.
func (c *TriggerClaims) Allows(scope string) bool {
	return c.Scope == scope || c.Scope == ScopeTrigger
}
