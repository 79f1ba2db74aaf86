package middleware

import (
	"time"

	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/cvfolio/reqaudit/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware observes latency per route template and counts responses
// by the status classes the audit statistics use. Requests for skipPaths
// (the scrape endpoint) are not observed.
func MetricsMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		method := c.Request.Method
		if !model.HTTPMethod(method).Valid() {
			method = "other"
		}
		metrics.LatencyBucket.WithLabelValues(endpoint, method).Observe(time.Since(start).Seconds())
		metrics.Responses.WithLabelValues(endpoint, statusClass(c.Writer.Status())).Inc()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return string(model.StatusClassSuccess)
	case status >= 400 && status < 500:
		return string(model.StatusClassClientError)
	case status >= 500 && status < 600:
		return string(model.StatusClassServerError)
	default:
		return "other"
	}
}
