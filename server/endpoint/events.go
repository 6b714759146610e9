package endpoint

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kbukum/mmalkit/sse"
)

// Events streams session events as server-sent events. The topic query
// parameter filters by glob, for example "capture:*" or "port:camera*".
// Clients reconnecting with the same client id replace their old stream.
func Events(hub *sse.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("client")
		if id == "" {
			id = c.GetHeader("X-Request-Id")
		}
		if id == "" {
			id = uuid.NewString()
		}
		sse.Serve(hub, c.Writer, c.Request, id, c.Query("topic"))
	}
}
