package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/auth"
)

// ActorKey holds the operator name in the gin context.
const ActorKey = "actor"

// LocalActor is recorded when authentication is disabled.
const LocalActor = "local"

// Auth middleware validates JWT tokens from the Authorization header or, for
// WebSocket clients, the token query parameter.
func Auth(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token := ""
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
				return
			}
			token = strings.TrimSpace(parts[1])
		}

		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := jwtManager.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set("claims", claims)
		c.Set(ActorKey, claims.Subject)
		c.Next()
	}
}

// Anonymous marks every request as coming from the local operator.
func Anonymous() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ActorKey, LocalActor)
		c.Next()
	}
}

// Actor returns the operator recorded by Auth or Anonymous.
func Actor(c *gin.Context) string {
	if actor := c.GetString(ActorKey); actor != "" {
		return actor
	}
	return LocalActor
}
