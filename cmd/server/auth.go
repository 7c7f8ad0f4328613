package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
)

// AuthConfig configures server authentication.
type AuthConfig struct {
	// Enabled requires a bearer token on every request except /health.
	Enabled bool

	// JWTSecret is the shared secret for HS256 JWT validation.
	JWTSecret string

	// Issuer is the expected "iss" claim in JWTs.
	Issuer string

	// Audience is the expected "aud" claim in JWTs (optional).
	Audience string

	// NameClaim is the JWT claim for user's name (default: "name").
	NameClaim string

	// EmailClaim is the JWT claim for user's email (default: "email").
	EmailClaim string
}

type identityKey struct{}

// IdentityFrom returns the identity a request was authenticated as.
func IdentityFrom(ctx context.Context) (core.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(core.Identity)
	return id, ok
}

// authResult represents the result of an authentication attempt.
type authResult struct {
	identity  core.Identity
	expiresAt time.Time
	err       error
}

// validateJWT checks an HMAC-signed token against the configured issuer and
// audience and reads the caller's identity from its claims.
func (s *Server) validateJWT(tokenString string) authResult {
	cfg := s.authConfig
	if cfg == nil {
		return authResult{err: errors.New("authentication not configured")}
	}
	if cfg.JWTSecret == "" {
		return authResult{err: errors.New("no JWT secret configured")}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return authResult{err: fmt.Errorf("invalid token: %w", err)}
	}

	nameClaim, emailClaim := cfg.NameClaim, cfg.EmailClaim
	if nameClaim == "" {
		nameClaim = "name"
	}
	if emailClaim == "" {
		emailClaim = "email"
	}
	id := core.Identity{}
	id.Name, _ = claims[nameClaim].(string)
	id.Email, _ = claims[emailClaim].(string)
	if id.Name == "" && id.Email == "" {
		return authResult{err: fmt.Errorf("token missing identity claims (%s or %s)", nameClaim, emailClaim)}
	}

	res := authResult{identity: id}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		res.expiresAt = exp.Time
	}
	return res
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid Authorization header: expected Bearer <token>")
	}
	return strings.TrimSpace(token), nil
}

// authenticate rejects requests without a valid token when authentication
// is enabled, and attaches the caller's identity otherwise.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authConfig == nil || !s.authConfig.Enabled {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, s.identity)))
			return
		}

		token, err := bearerToken(r)
		if err != nil {
			s.writeJSON(w, http.StatusUnauthorized, failure("auth", err))
			return
		}
		result := s.validateJWT(token)
		if result.err != nil {
			s.logger.Info("rejected request", zap.String("path", r.URL.Path), zap.Error(result.err))
			s.writeJSON(w, http.StatusUnauthorized, failure("auth", result.err))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, result.identity)))
	})
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	ar := AuthResponse{Authenticated: ok && s.authConfig != nil && s.authConfig.Enabled}
	if ok {
		ar.Identity = fmt.Sprintf("%s <%s>", id.Name, id.Email)
	}
	if ar.Authenticated {
		if token, err := bearerToken(r); err == nil {
			if res := s.validateJWT(token); res.err == nil && !res.expiresAt.IsZero() {
				ar.ExpiresIn = int(time.Until(res.expiresAt).Seconds())
			}
		}
	}
	s.writeJSON(w, http.StatusOK, success("auth", ar))
}
