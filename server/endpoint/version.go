package endpoint

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/mmalkit/version"
)

var startTime = time.Now()

// Version reports build information, the media engine in use and uptime.
func Version(engine string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v := version.Get()
		v.Engine = engine
		c.JSON(http.StatusOK, gin.H{
			"version": v,
			"uptime":  time.Since(startTime).Round(time.Second).String(),
		})
	}
}
