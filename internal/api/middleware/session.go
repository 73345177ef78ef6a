package middleware

import (
	"net/http"
	"strings"

	"lti-booking/internal/domain/booking"
	"lti-booking/pkg/logger"

	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// ActorParser turns a bearer token into the actor it was issued for.
type ActorParser interface {
	Parse(token string) (booking.Actor, error)
}

// Session resolves the actor once per request from the Authorization header.
func Session(parser ActorParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Missing session token",
			})
			return
		}

		actor, err := parser.Parse(strings.TrimSpace(token))
		if err != nil {
			logger.WithField("client_ip", c.ClientIP()).WithError(err).Warn("rejected session token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid or expired session",
			})
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequireManager lets only instructors and administrators through.
func RequireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok || !actor.CanManage() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Instructor or administrator role required",
			})
			return
		}
		c.Next()
	}
}

func CurrentActor(c *gin.Context) (booking.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return booking.Actor{}, false
	}
	actor, ok := v.(booking.Actor)
	return actor, ok
}
