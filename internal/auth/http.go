// ABOUTME: HTTP middleware guarding the observer API with bearer tokens
// ABOUTME: Accepts Authorization headers and, for WebSocket upgrades, a token query parameter

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// TokenQueryParam carries the token on WebSocket upgrades, where browsers
// cannot set an Authorization header.
const TokenQueryParam = "token"

// extractBearerToken extracts the token from an Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// requestToken finds the token on r: the Authorization header first, then
// the query string for upgrade requests.
func requestToken(r *http.Request) (string, string) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg == "" {
		return token, ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if q := r.URL.Query().Get(TokenQueryParam); q != "" {
			return q, ""
		}
	}
	return "", errMsg
}

// RequireToken creates an HTTP middleware that rejects requests without a
// valid token and adds AuthContext to the request context. A nil verifier
// disables the check.
func RequireToken(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := requestToken(r)
			if errMsg != "" {
				writeUnauthorized(w, errMsg)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				msg := ErrInvalidToken.Error()
				if errors.Is(err, ErrExpiredToken) {
					msg = ErrExpiredToken.Error()
				}
				writeUnauthorized(w, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), &AuthContext{Subject: subject})))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
