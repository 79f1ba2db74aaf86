package middleware

import (
	"github.com/cvfolio/reqaudit/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID  = "X-Request-ID"
	ContextRequestID = "request_id"
)

// AuditMiddleware records one request log per request. It must wrap every
// middleware that can still change the response (recovery, error rendering)
// so the status it sees is the one the client receives.
func AuditMiddleware(auditSvc *service.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := uuid.New().String()
		c.Header(HeaderRequestID, reqID)
		c.Set(ContextRequestID, reqID)

		capture := auditSvc.Begin(c.Request)
		capture.RequestID = reqID

		c.Next()

		auditSvc.Complete(c.Request.Context(), capture, service.ResponseInfo{
			Status: c.Writer.Status(),
			Size:   int64(c.Writer.Size()),
		}, ActorFrom(c))
	}
}
