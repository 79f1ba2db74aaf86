package middleware

import (
	"github.com/cvfolio/reqaudit/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFrom(c)
		if !actor.IsStaff && !actor.IsSuperuser {
			c.Error(apperrors.New(apperrors.ErrForbidden, "staff access required", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func RequireSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ActorFrom(c).IsSuperuser {
			c.Error(apperrors.New(apperrors.ErrForbidden, "superuser access required", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
