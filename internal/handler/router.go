package handler

import (
	"net/http"

	"github.com/cvfolio/reqaudit/internal/middleware"
	"github.com/cvfolio/reqaudit/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Audit       *service.AuditService
	Tokens      *service.TokenService
	Limiter     *service.ActorLimiter
	Handler     *AuditHandler
	CORSOrigins []string
	ReadOnly    bool
	// MetricsPath exposes Prometheus metrics when non-empty.
	MetricsPath string
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()

	// audit first: it has to observe the response after recovery and
	// error rendering have run
	r.Use(middleware.AuditMiddleware(d.Audit))
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware(d.MetricsPath))
	r.Use(middleware.CORSMiddleware(d.CORSOrigins))
	r.Use(middleware.IdentifyMiddleware(d.Tokens))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "reqaudit"})
	})
	if d.MetricsPath != "" {
		r.GET(d.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	audit := r.Group("/audit")
	audit.Use(middleware.RequireAuth())
	audit.GET("/logs", d.Handler.Dashboard)

	api := audit.Group("/api")
	if d.Limiter != nil {
		api.Use(middleware.RateLimitMiddleware(d.Limiter))
	}
	{
		api.GET("/logs", d.Handler.ListLogs)
		api.GET("/logs/:id", d.Handler.GetLog)
		api.GET("/stats", d.Handler.Stats)
		api.GET("/stream", d.Handler.Stream)
	}

	admin := api.Group("")
	admin.Use(middleware.ReadOnlyMiddleware(d.ReadOnly))
	{
		admin.POST("/purge", middleware.RequireSuperuser(), d.Handler.Purge)
		admin.DELETE("/actors/:id", middleware.RequireStaff(), d.Handler.DetachActor)
	}
	return r
}
