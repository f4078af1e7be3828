// Package identity resolves the calling user from a bearer token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// UserHeaderName carries the caller's id when tokens are not enforced.
	UserHeaderName = "X-User-ID"
	// AnonymousUserID is used when no identity could be established in development.
	AnonymousUserID = "anonymous"
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
	verifiedKey
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9@._:-]{1,128}$`)

// Claims is the JWT payload accepted by the gate.
type Claims struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	jwt.RegisteredClaims
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// IsVerified reports whether the user ID came from a validated token.
func IsVerified(ctx context.Context) bool {
	v, _ := ctx.Value(verifiedKey).(bool)
	return v
}

// WithUser returns ctx carrying userID.
func WithUser(ctx context.Context, userID, username string, verified bool) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, usernameKey, username)
	return context.WithValue(ctx, verifiedKey, verified)
}

// IssueToken signs an HS256 token for userID.
func IssueToken(secret, userID, userName string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Subject:   "access",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates tokenStr and returns its claims.
func ParseToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token missing user_id")
	}
	return claims, nil
}

// bearerToken reads the Authorization header, or the token query parameter
// for websocket upgrades that cannot set headers.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, nil
		}
		return "", errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("malformed Authorization header")
	}
	return token, nil
}

// Middleware authenticates requests with HS256 bearer tokens carrying a
// user_id claim. With an empty secret it trusts the X-User-ID header instead
// and marks the identity unverified.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				userID := strings.TrimSpace(r.Header.Get(UserHeaderName))
				if !userIDPattern.MatchString(userID) {
					userID = ""
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, "", false)))
				return
			}

			token, err := bearerToken(r)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}
			claims, err := ParseToken(secret, token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID, claims.UserName, true)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"message":%q,"error":"Unauthorized"}`, msg)
}

// ResolveUserID picks the acting user: a verified token identity always wins;
// otherwise the client-supplied id, the header id, then AnonymousUserID.
func ResolveUserID(ctx context.Context, requested string) string {
	fromCtx := UserIDFromContext(ctx)
	if IsVerified(ctx) {
		return fromCtx
	}
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	if fromCtx != "" {
		return fromCtx
	}
	return AnonymousUserID
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
