package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionTokenIssuer = "tropiwallet"

var ErrInvalidSessionToken = errors.New("invalid session token")

// SessionTokens issues and verifies HS256 bearer tokens whose subject is the
// internal user id. A nil *SessionTokens means enforcement is off.
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokens returns nil when secret is empty.
func NewSessionTokens(secret string, ttl time.Duration) *SessionTokens {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &SessionTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether tokens are issued and enforced.
func (t *SessionTokens) Enabled() bool {
	return t != nil
}

// Issue signs a token for userID.
func (t *SessionTokens) Issue(userID string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    sessionTokenIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify returns the subject of a valid token.
func (t *SessionTokens) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidSessionToken
	}
	return claims.Subject, nil
}
