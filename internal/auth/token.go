// ABOUTME: Observer tokens: HS256 JWTs that let dashboards and screens read the API
// ABOUTME: Tokens are scoped to the observer audience and always carry an expiry

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// MinSecretLength is the shortest auth.jwt_secret accepted.
	MinSecretLength = 32

	// Issuer and Audience are stamped on every observer token and required
	// on verification, so tokens minted for other services do not open the API.
	Issuer   = "reclama-gateway"
	Audience = "reclama-observer"
)

var (
	ErrInvalidToken = errors.New("invalid observer token")
	ErrExpiredToken = errors.New("observer token expired")
	ErrMissingClaim = errors.New("observer token has no subject")
	ErrWeakSecret   = fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLength)
)

// TokenVerifier resolves a bearer token to the observer it was issued to.
type TokenVerifier interface {
	Verify(tokenString string) (observer string, err error)
}

// JWTVerifier issues and checks observer tokens with a shared secret.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret, now: time.Now}, nil
}

// Verify returns the observer named in the subject claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case claims.Subject == "":
		return "", ErrMissingClaim
	}
	return claims.Subject, nil
}

// Generate mints a token for observer, valid for ttl.
func (v *JWTVerifier) Generate(observer string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   observer,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
