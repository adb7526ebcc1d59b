package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agency-hub/internal/models"
	"agency-hub/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const (
	ctxKeyUserID = "auth.user_id"
	ctxKeyRole   = "auth.role"
)

var ErrInvalidToken = errors.New("invalid token")

// UserLookup resolves a user when the role cache misses.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// RoleCache keeps recently resolved roles for a short TTL.
type RoleCache interface {
	CachedRole(ctx context.Context, userID string) (string, error)
	CacheRole(ctx context.Context, userID, role string, ttl time.Duration) error
}

// Authenticator validates bearer tokens and resolves the caller's role.
type Authenticator struct {
	secret []byte
	users  UserLookup
	cache  RoleCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewAuthenticator creates a new JWT authenticator
func NewAuthenticator(secret string, users UserLookup, cache RoleCache, roleTTL time.Duration) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		users:  users,
		cache:  cache,
		ttl:    roleTTL,
		logger: util.Named("auth"),
	}
}

// IssueToken signs a token whose subject is the user id.
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseToken returns the user id carried by a valid token.
func (a *Authenticator) ParseToken(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's id and role on the gin context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		userID, err := a.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		role, err := a.resolveRole(c.Request.Context(), userID)
		if err != nil {
			a.logger.Error("Failed to resolve role", zap.String("user_id", userID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(ctxKeyUserID, userID)
		c.Set(ctxKeyRole, role)
		c.Next()
	}
}

// resolveRole returns "" for unknown users. Cache errors fall through to the
// user store.
func (a *Authenticator) resolveRole(ctx context.Context, userID string) (string, error) {
	if role, err := a.cache.CachedRole(ctx, userID); err != nil {
		a.logger.Warn("Role cache unavailable", zap.Error(err))
	} else if role != "" {
		return role, nil
	}

	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", nil
	}

	if err := a.cache.CacheRole(ctx, userID, user.Role, a.ttl); err != nil {
		a.logger.Warn("Failed to cache role", zap.String("user_id", userID), zap.Error(err))
	}
	return user.Role, nil
}

// RequireRole allows only the listed roles through.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := Role(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// UserID returns the authenticated user id, or "".
func UserID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

func Role(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, else "unknown".
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return "unknown"
}
