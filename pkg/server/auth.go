package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/raterudder/loadshift/pkg/log"
)

// authMiddleware guards the endpoints that change state. Reads are open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if s.oidcVerifier == nil {
			if !s.allowUnauthenticated {
				log.Ctx(ctx).WarnContext(ctx, "unauthenticated request rejected")
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}

		email, err := s.authenticateToken(ctx, parts[1])
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to validate id token", slog.Any("error", err))
			writeJSONError(w, "invalid id token", http.StatusUnauthorized)
			return
		}
		if len(s.adminEmails) > 0 {
			var allowed bool
			for _, admin := range s.adminEmails {
				if strings.EqualFold(email, admin) {
					allowed = true
					break
				}
			}
			if !allowed {
				log.Ctx(ctx).WarnContext(ctx, "unauthorized email", slog.String("email", email))
				writeJSONError(w, "unauthorized email", http.StatusForbidden)
				return
			}
		}

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authEmail", email)))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticateToken verifies the ID token and returns its email claim.
func (s *Server) authenticateToken(ctx context.Context, token string) (string, error) {
	if s.oidcVerifier == nil {
		return "", errors.New("no audience configured")
	}
	idToken, err := s.oidcVerifier(ctx, token)
	if err != nil {
		return "", fmt.Errorf("verifier failed: %w", err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" {
		return "", errors.New("missing email claim")
	}
	return claims.Email, nil
}
