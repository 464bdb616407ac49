// Package auth guards the observer API of reclama-gateway.
//
// # Tokens
//
// Dashboard clients authenticate with HS256 JWTs signed with
// auth.jwt_secret. The "sub" claim names the observer; iss, aud and exp are
// required and must match Issuer and Audience. Tokens are minted by the
// `token` CLI command or by exchanging the dashboard password at POST /api/login.
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("dashboard", 24*time.Hour)
//
// # HTTP Middleware
//
// RequireToken wraps a handler:
//
//	mux.Handle("/api/", auth.RequireToken(verifier)(api))
//
// The token is read from "Authorization: Bearer <token>". WebSocket upgrade
// requests may pass it as ?token= instead. On success the request context
// carries an AuthContext, retrieved with FromContext.
//
// # Passwords
//
// The dashboard password is stored as a bcrypt hash in configuration.
// CheckPassword compares in constant time even when no hash is configured.
package auth
