package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/25x8/smm-reseller/internal/reseller/models"
	"github.com/25x8/smm-reseller/internal/reseller/respond"
)

type contextKey string

const (
	// UserIDKey is the key for user ID in the request context
	UserIDKey contextKey = "userID"
	// RoleKey is the key for the user role in the request context
	RoleKey contextKey = "role"

	DefaultTokenTTL = 24 * time.Hour
	authCookieName  = "auth_token"
	bearerSchema    = "Bearer "
)

// UserLookup confirms that a token subject still exists.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// JWTConfig contains configuration for JWT authentication
type JWTConfig struct {
	SecretKey string
	Users     UserLookup
}

// JWTClaims represents JWT claims
type JWTClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for a user
func GenerateToken(userID int64, role, secretKey string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := JWTClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

// AuthMiddleware creates middleware that checks if the user is authenticated
func AuthMiddleware(cfg *JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				respond.Fail(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(cfg.SecretKey), nil
			})
			if err != nil || !token.Valid {
				respond.Fail(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			claims, ok := token.Claims.(*JWTClaims)
			if !ok || claims.UserID <= 0 {
				respond.Fail(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			// The stored role wins over the one in the token.
			ctx := r.Context()
			role := claims.Role
			if cfg.Users != nil {
				user, err := cfg.Users.GetUser(ctx, claims.UserID)
				if err != nil || user == nil {
					respond.Fail(w, http.StatusUnauthorized, "unauthorized", "unknown user")
					return
				}
				role = user.Role
			}

			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated users without the given role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, _ := r.Context().Value(RoleKey).(string); got != role {
				respond.Fail(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken extracts JWT token from Authorization header or cookie
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, bearerSchema) {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerSchema))
	}

	cookie, err := r.Cookie(authCookieName)
	if err == nil {
		return cookie.Value
	}

	return ""
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}
