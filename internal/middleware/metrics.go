package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pasi-sync-api/internal/service"
)

// Metrics returns middleware that captures request metrics using the provided
// service. Routes whose template ends in one of skipSuffixes are not observed;
// long-lived streams would skew the latency histogram.
func Metrics(metricsSvc *service.MetricsService, skipSuffixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		for _, suffix := range skipSuffixes {
			if strings.HasSuffix(path, suffix) {
				c.Next()
				return
			}
		}
		start := time.Now()
		c.Next()
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
