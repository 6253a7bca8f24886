package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OnlyAllowLocal rejects every client that is not on the loopback
// interface.
func OnlyAllowLocal(c *gin.Context) {
	if ip := c.ClientIP(); ip == "127.0.0.1" || ip == "::1" {
		c.Next()
		return
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
}
