package observability

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MetricsEndpoint mounts the exporter's scrape handler on a gin route. Without
// an exporter the route answers 503 so scrapers mark the target down.
func MetricsEndpoint(handler http.Handler) gin.HandlerFunc {
	if handler == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "metrics exporter not initialized",
			})
		}
	}
	return gin.WrapH(handler)
}
