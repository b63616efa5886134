package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerKey is the gin context key holding the extracted bearer token.
const BearerKey = "bearer"

// BearerToken extracts the token of an "Authorization: Bearer ..." header.
func BearerToken(header string) (string, bool) {
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("bearer "):])
	return token, token != ""
}

// RequireBearer rejects requests without a bearer token and stores it under BearerKey.
func RequireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		c.Set(BearerKey, token)
		c.Next()
	}
}
