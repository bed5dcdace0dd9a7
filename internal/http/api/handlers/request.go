package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIP returns the originating client address. Behind the proxy the
// first X-Forwarded-For hop is the caller; direct connections fall back to
// the socket address.
func ClientIP(c *gin.Context) string {
	forwarded := c.GetHeader("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	return c.ClientIP()
}

// denial writes the standard refusal body.
func denial(c *gin.Context, status int, reason, message string) {
	c.JSON(status, gin.H{"reason": reason, "message": message})
}
