package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/uplink/internal/audit/domain"
	"github.com/smallbiznis/uplink/internal/auditcontext"
	obscontext "github.com/smallbiznis/uplink/internal/observability/context"
)

const (
	HeaderActor     = "X-Actor-ID"
	contextActorKey = "actor_id"
)

// AdminActorRequired resolves the administrator behind an admin request.
// Authentication happens upstream; this service only needs an identity to
// stamp on adjustments and the audit trail.
func AdminActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActor))
		if actor == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeAdmin), actor)
		ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeAdmin), actor)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	return c.GetString(contextActorKey)
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id <= 0 {
		return 0, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	return id, nil
}
