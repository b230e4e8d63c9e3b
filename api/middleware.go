package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/vetdispatch/auth"
	"github.com/kilianp07/vetdispatch/core/apperr"
)

const actorKey = "actor"

// authenticate verifies the bearer token. When allowQuery is set the token may
// also come from the access_token query parameter, which browsers need for
// websocket upgrades.
func (s *server) authenticate(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" && allowQuery {
			token = c.Query("access_token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing bearer token"})
			return
		}
		actor, err := s.Signer.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "invalid token"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func requireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		a := actorOf(c)
		for _, r := range roles {
			if a.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
			Error:   apperr.KindForbidden,
			Message: "role " + string(a.Role) + " may not call this endpoint",
		})
	}
}

func actorOf(c *gin.Context) auth.Actor {
	v, _ := c.Get(actorKey)
	a, _ := v.(auth.Actor)
	return a
}

func (s *server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugw("http request", map[string]any{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"actor":    actorOf(c).ID,
		})
	}
}
