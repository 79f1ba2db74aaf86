package middleware

import (
	"strings"

	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/cvfolio/reqaudit/internal/pkg/apperrors"
	"github.com/cvfolio/reqaudit/internal/pkg/logger"
	"github.com/cvfolio/reqaudit/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	HeaderAuthorization = "Authorization"
	ContextActorKey     = "actor"
)

// IdentifyMiddleware resolves the bearer token into an actor. Missing or bad
// credentials leave the request anonymous; it never rejects.
func IdentifyMiddleware(tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := model.Anonymous()
		if raw := bearerToken(c.GetHeader(HeaderAuthorization)); raw != "" && tokens != nil {
			parsed, err := tokens.Parse(raw)
			if err != nil {
				logger.Debug("rejected bearer token", "error", err, "path", c.Request.URL.Path)
			} else {
				actor = parsed
			}
		}
		c.Set(ContextActorKey, actor)
		c.Next()
	}
}

// RequireAuth stops anonymous callers with 401.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ActorFrom(c).IsAuthenticated {
			c.Error(apperrors.NewAuthRequired())
			c.Abort()
			return
		}
		c.Next()
	}
}

// ActorFrom returns the actor resolved for this request, or anonymous.
func ActorFrom(c *gin.Context) model.Actor {
	if v, ok := c.Get(ContextActorKey); ok {
		if actor, ok := v.(model.Actor); ok {
			return actor
		}
	}
	return model.Anonymous()
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
