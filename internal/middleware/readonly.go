package middleware

import (
	"net/http"

	"github.com/cvfolio/reqaudit/internal/pkg/apperrors"
	"github.com/cvfolio/reqaudit/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

const HeaderReadOnly = "X-Audit-Read-Only"

// ReadOnlyMiddleware freezes the audit trail. While enabled, purge and actor
// detachment are refused, and every response on the guarded routes carries
// X-Audit-Read-Only so clients can grey out those actions.
func ReadOnlyMiddleware(enabled bool) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		c.Header(HeaderReadOnly, "true")
		if safeMethod(c.Request.Method) {
			c.Next()
			return
		}

		logger.Warn("audit mutation refused in read-only mode",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"actor_id", ActorFrom(c).ID,
		)
		c.Error(apperrors.New(apperrors.ErrReadOnly, "audit trail is read-only", nil))
		c.Abort()
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
