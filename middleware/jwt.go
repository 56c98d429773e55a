package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenIssuer is stamped on every session token and required on parse.
const tokenIssuer = "questd"

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// issuer checks.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the session token payload. Director is fixed when the token is
// issued; a role change takes effect on the next login or refresh.
type Claims struct {
	AccountID int64 `json:"account_id"`
	Director  bool  `json:"director,omitempty"`
	jwt.RegisteredClaims
}

// UserID is the account id in the string form the quest layer uses.
func (c *Claims) UserID() string { return strconv.FormatInt(c.AccountID, 10) }

// GenerateToken signs an HS256 session token for accountID valid for ttl.
// Every token carries a fresh jti, so two tokens are never equal.
func GenerateToken(accountID int64, director bool, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		AccountID: accountID,
		Director:  director,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(accountID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates tokenStr against secret and returns its claims.
// Failures wrap ErrInvalidToken.
func ParseToken(tokenStr, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
