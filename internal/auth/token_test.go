// ABOUTME: Tests for observer token issuing and verification
// ABOUTME: Covers audience scoping, expiry, weak secrets and foreign signatures

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-jwt-signing!")

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	return v
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("dashboard", time.Hour)
	require.NoError(t, err)

	sub, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", sub)
}

func TestNewJWTVerifier_WeakSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	other, err := NewJWTVerifier([]byte("another-secret-that-is-32-bytes!"))
	require.NoError(t, err)
	foreign, err := other.Generate("dashboard", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)
	issued := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	verifier.now = func() time.Time { return issued }

	token, err := verifier.Generate("dashboard", time.Minute)
	require.NoError(t, err)

	verifier.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func signClaims(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	verifier := newTestVerifier(t)
	token := signClaims(t, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Audience:  jwt.ClaimStrings{Audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestJWTVerifier_RequiresObserverScope(t *testing.T) {
	verifier := newTestVerifier(t)
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		claims jwt.RegisteredClaims
	}{
		{
			name:   "other audience",
			claims: jwt.RegisteredClaims{Issuer: Issuer, Subject: "ops", Audience: jwt.ClaimStrings{"billing"}, ExpiresAt: exp},
		},
		{
			name:   "other issuer",
			claims: jwt.RegisteredClaims{Issuer: "someone-else", Subject: "ops", Audience: jwt.ClaimStrings{Audience}, ExpiresAt: exp},
		},
		{
			name:   "no expiry",
			claims: jwt.RegisteredClaims{Issuer: Issuer, Subject: "ops", Audience: jwt.ClaimStrings{Audience}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(signClaims(t, tt.claims))
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_GeneratedClaims(t *testing.T) {
	verifier := newTestVerifier(t)
	issued := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	verifier.now = func() time.Time { return issued }

	token, err := verifier.Generate("wallboard", 8*time.Hour)
	require.NoError(t, err)

	var claims jwt.RegisteredClaims
	_, _, err = jwt.NewParser().ParseUnverified(token, &claims)
	require.NoError(t, err)
	assert.Equal(t, "wallboard", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{Audience}, claims.Audience)
	assert.Equal(t, issued.Add(8*time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestJWTVerifier_RejectsNoneAlgorithm(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "dashboard",
		Audience:  jwt.ClaimStrings{Audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
