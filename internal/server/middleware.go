package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/stockline/internal/observability/context"
	obsmiddleware "github.com/smallbiznis/stockline/internal/observability/logger"
)

const (
	HeaderActorRole = "X-Actor-Role"
	HeaderActorID   = "X-Actor-Id"

	contextActorRoleKey = obsmiddleware.KeyActorRole
	contextActorIDKey   = "actor_id"
)

// ActorContext stores the operator identity from the request headers on the
// request context so services and audit entries see it.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole)))
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))

		c.Set(contextActorRoleKey, role)
		c.Set(contextActorIDKey, id)
		if role != "" {
			c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), role, id))
		}
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(contextActorRoleKey)
		if role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), role, c.GetString(contextActorIDKey), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
