package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"tasklist-api/internal/domain"
	"tasklist-api/internal/respond"
	"tasklist-api/pkg/logging/logging"
)

// UserIDHeader carries the caller's user id when no JWT secret is configured.
const UserIDHeader = "X-User-ID"

// Identity resolves who is calling and stores it in the context.
//
// With a secret, "Authorization: Bearer <HS256 JWT>" is verified and its
// subject becomes the user id; a bad token is rejected with 401. Without a
// secret the X-User-ID header is trusted. Either way the rate-limit identity
// is the user id when known, else the client address.
func Identity(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var userID string
			if len(secret) > 0 {
				if raw, ok := bearerToken(r); ok {
					sub, err := verifySubject(raw, secret)
					if err != nil {
						logging.L(ctx).Info("rejected bearer token", zap.Error(err))
						respond.Error(w, http.StatusUnauthorized, "invalid token")
						return
					}
					userID = sub
				}
			} else {
				userID = strings.TrimSpace(r.Header.Get(UserIDHeader))
			}

			identity := "ip:" + clientIP(r)
			if userID != "" {
				identity = "user:" + userID
				ctx = domain.WithUser(ctx, userID)
				ctx = logging.WithFields(ctx, zap.String("user_id", userID))
			}
			ctx = domain.WithIdentity(ctx, identity)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests that Identity could not tie to a user.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := domain.UserFromCtx(r.Context()); !ok {
			respond.Error(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func verifySubject(raw string, secret []byte) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// clientIP strips the port that RemoteAddr carries when RealIP did not rewrite it.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
