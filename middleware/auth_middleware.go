package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"visitrack/api/logger"
	"visitrack/api/utils"
)

const (
	AdminCookieName = "jwt_token"

	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
)

// AuthRequired admits requests carrying the static X-API-KEY or a valid admin
// JWT from the jwt_token cookie or a Bearer header. An empty apiKey disables
// the static key.
func AuthRequired(apiKey string, tokens *utils.TokenIssuer, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-KEY"); apiKey != "" && key != "" &&
			subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			c.Next()
			return
		}

		tokenString, err := c.Cookie(AdminCookieName)
		if err != nil || tokenString == "" {
			tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
			if tokenString == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
				return
			}
		}

		claims, err := tokens.ValidateJWT(tokenString)
		if err != nil {
			log.Debug("rejected admin token", slog.String("path", c.FullPath()), logger.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}
