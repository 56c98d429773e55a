package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thc1967/codex-quest-manager-sub000/cache"
	"github.com/thc1967/codex-quest-manager-sub000/config"
)

const (
	AccountIDKey = "account_id"
	DirectorKey  = "director"
	TokenKey     = "token"
)

// SessionKey is the cache key marking token as a live session.
func SessionKey(token string) string { return "session:" + token }

// Auth validates the Bearer JWT token and checks the session cache. When
// allowQuery is set a ?token= parameter is accepted as well, for clients
// such as EventSource that cannot send headers.
func Auth(sec config.SecurityConfig, c cache.Cache, allowQuery bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := ""
		if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		} else if allowQuery {
			tokenStr = ctx.Query("token")
		}
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// Check session still valid in cache.
		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, SessionKey(tokenStr))
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(AccountIDKey, claims.AccountID)
		ctx.Set(DirectorKey, claims.Director)
		ctx.Set(TokenKey, tokenStr)
		ctx.Next()
	}
}

// GetAccountID retrieves the authenticated account ID from the Gin context.
func GetAccountID(c *gin.Context) int64 {
	if v, exists := c.Get(AccountIDKey); exists {
		return v.(int64)
	}
	return 0
}

// IsDirector reports whether the authenticated account is a director.
func IsDirector(c *gin.Context) bool {
	return c.GetBool(DirectorKey)
}

// GetToken returns the raw token the request authenticated with.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}
