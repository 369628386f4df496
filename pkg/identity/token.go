package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the JWT payload minted for an authenticated estimator
// session: just enough to identify the user without a database round trip
// on every request.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// TokenManager issues and validates session tokens against a KeySet,
// so key rotation (see InMemoryKeySet.Rotate) invalidates nothing already
// issued under a still-tracked key.
type TokenManager struct {
	keySet KeySet
}

func NewTokenManager(ks KeySet) *TokenManager {
	return &TokenManager{keySet: ks}
}

// IssueSession signs a short-lived bearer token for userID.
func (tm *TokenManager) IssueSession(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "estimator",
		},
		Email: email,
	}
	return tm.keySet.Sign(context.Background(), claims)
}

// ValidateSession parses and validates a session bearer token.
func (tm *TokenManager) ValidateSession(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, tm.keySet.KeyFunc())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("identity: invalid session token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("identity: session token missing subject")
	}
	return claims, nil
}
