package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jobpsych/server/internal/module/quota"
)

var (
	// ErrInvalidToken reports a token that failed signature or structural
	// validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidTokenClaims reports a token whose claims are unusable.
	ErrInvalidTokenClaims = errors.New("invalid token claims")
)

// Claims are the bearer-token claims issued by the account service. The
// account identifier is the email; id and name travel alongside it.
type Claims struct {
	jwt.RegisteredClaims
	Email  string `json:"email"`
	UserID string `json:"id"`
	Name   string `json:"name"`
	Plan   string `json:"plan"`
}

// Verifier validates HS256 bearer tokens and classifies them into an
// identity.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a token verifier.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify validates a token string and returns its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidTokenClaims
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: missing email", ErrInvalidTokenClaims)
	}

	return claims, nil
}

// Identity maps verified claims to an authenticated quota identity.
func (c *Claims) Identity() quota.Identity {
	tier := quota.TierFree
	if c.Plan == string(quota.TierPremium) {
		tier = quota.TierPremium
	}
	id := quota.Authenticated(c.Email, tier)
	id.Name = c.Name
	return id
}
