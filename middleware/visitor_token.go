package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"visitrack/api/utils"
)

const (
	VisitorCookieName  = "visitor_token"
	VisitorTokenHeader = "X-Visitor-Token"

	ContextSessionID = "session_id"
)

// VisitorToken admits a request only when its visitor token names the
// session in the :id path parameter.
func VisitorToken(tokens *utils.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader(VisitorTokenHeader)
		if tokenString == "" {
			tokenString, _ = c.Cookie(VisitorCookieName)
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No visitor token provided"})
			return
		}

		claims, err := tokens.ValidateVisitorToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired visitor token"})
			return
		}
		if id := c.Param("id"); id != "" && id != claims.SessionID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Visitor token does not match this session"})
			return
		}

		c.Set(ContextSessionID, claims.SessionID)
		c.Next()
	}
}
