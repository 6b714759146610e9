package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/mmalkit/component"
	"github.com/kbukum/mmalkit/observability"
)

// HealthChecker returns the health of every registered component.
type HealthChecker func(ctx context.Context) []component.Health

func serviceHealth(ctx context.Context, service, version string, checker HealthChecker) *observability.ServiceHealth {
	if checker == nil {
		return observability.NewServiceHealth(service, version)
	}
	return observability.FromComponents(service, version, checker(ctx))
}

// Health reports the service and component health. A component that is
// down makes the response a 503.
func Health(service, version string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		sh := serviceHealth(c.Request.Context(), service, version, checker)
		code := http.StatusOK
		if !sh.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"health":    sh,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Readiness answers 200 only while every component is up. A degraded
// camera, with its capture circuit open, is not ready for captures.
func Readiness(service string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		sh := serviceHealth(c.Request.Context(), service, "", checker)
		if !sh.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"service":   service,
				"health":    sh.Status,
				"not_ready": sh.NotUp(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "service": service})
	}
}
