// Package auth implements the broker that issues and validates the two
// credential kinds accepted by the POS services: bearer JWTs for users and
// per-terminal API keys. Either one resolves to a Caller carrying the tenant
// scope every downstream handler relies on.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
)

// Error codes (account range 10xxx).
const (
	CodeInvalidCredentials = 10001
	CodeInvalidToken       = 10002
	CodeTokenExpired       = 10003
	CodeInactiveUser       = 10004
	CodeInvalidAPIKey      = 10005
	CodeTenantMismatch     = 10006
)

// Claims are the JWT claims carried by user tokens.
type Claims struct {
	TenantID    string `json:"tenant_id"`
	IsSuperuser bool   `json:"is_superuser"`
	IsActive    bool   `json:"is_active"`
	jwt.RegisteredClaims
}

// Broker issues and validates JWTs (HS256).
type Broker struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewBroker creates a token broker.
func NewBroker(secret string, expiry time.Duration) *Broker {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Broker{
		secret: []byte(secret),
		expiry: expiry,
		issuer: "pos-service-layer",
	}
}

// Issue creates a signed token for a user.
func (b *Broker) Issue(userID, tenantID string, isSuperuser, isActive bool) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(b.expiry)
	claims := &Claims{
		TenantID:    tenantID,
		IsSuperuser: isSuperuser,
		IsActive:    isActive,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    b.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(b.secret)
	if err != nil {
		return "", time.Time{}, apperr.Internal(apperr.CodeInternal, "sign token", err)
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies a token, returning its claims.
func (b *Broker) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return b.secret, nil
	})
	if err != nil {
		return nil, apperr.Authentication(CodeInvalidToken, "invalid authentication token").WithCause(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.Authentication(CodeInvalidToken, "invalid authentication token")
	}
	if !claims.IsActive {
		return nil, apperr.Authentication(CodeInactiveUser, "user is inactive")
	}
	return claims, nil
}
