package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthMiddleware validates JWT tokens on client endpoints. Tokens are
// issued by auth-service; claims are parsed as MapClaims for compatibility.
func JWTAuthMiddleware(secretKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			c.Abort()
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(secretKey), nil
		})

		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			c.Abort()
			return
		}

		// auth-service puts the client id in uid; fall back to the standard
		// sub claim.
		if uid, ok := claims["uid"].(string); ok {
			c.Set("clientID", uid)
		} else if sub, ok := claims["sub"].(string); ok {
			c.Set("clientID", sub)
		}

		c.Next()
	}
}

// InternalAuthMiddleware validates service-to-service calls. Constant-time
// compare prevents timing attacks.
func InternalAuthMiddleware(internalSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader("X-Internal-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(internalSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized internal access"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CallbackTokenMiddleware validates the payment gateway's webhook token.
// The gateway sends it on every delivery; anything without it is noise.
func CallbackTokenMiddleware(callbackToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("x-callback-token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(callbackToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid callback token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
