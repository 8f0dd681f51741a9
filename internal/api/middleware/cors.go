package middleware

import (
	"relay-service/internal/origin"

	"github.com/gin-gonic/gin"
)

// CORS middleware for handling cross-origin requests
func CORS(allowed *origin.Matcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		o := c.Request.Header.Get("Origin")

		// Set CORS headers if origin is allowed
		if o != "" && allowed.Match(o) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", o)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
