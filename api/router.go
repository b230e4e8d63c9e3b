// Package api is the HTTP surface of the dispatch engine.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apidispatch "github.com/kilianp07/vetdispatch/api/dispatch"
	"github.com/kilianp07/vetdispatch/auth"
	"github.com/kilianp07/vetdispatch/core/dispatch"
	"github.com/kilianp07/vetdispatch/core/dispatch/logging"
	"github.com/kilianp07/vetdispatch/core/logger"
	"github.com/kilianp07/vetdispatch/core/policy"
	"github.com/kilianp07/vetdispatch/core/store"
	"github.com/kilianp07/vetdispatch/infra/realtime"
)

// Deps are the collaborators served by the router. Realtime is optional.
type Deps struct {
	Manager   *dispatch.Manager
	Policy    *policy.Policy
	Providers store.ProviderDirectory
	Audit     logging.LogStore
	Realtime  *realtime.Server
	Signer    *auth.Signer
	Log       logger.Logger
	// ServeMetrics mounts /metrics on this router.
	ServeMetrics bool
}

type server struct {
	Deps
	log logger.Logger
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) (*gin.Engine, error) {
	if d.Manager == nil || d.Policy == nil || d.Providers == nil || d.Audit == nil || d.Signer == nil || d.Log == nil {
		return nil, fmt.Errorf("api: nil parameter provided to NewRouter")
	}
	s := &server{Deps: d, log: d.Log}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if d.ServeMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/api/v1")
	if d.Realtime != nil {
		v1.GET("/ws", s.authenticate(true), s.websocket)
	}

	authed := v1.Group("", s.authenticate(false))
	em := authed.Group("/emergencies")
	em.POST("", requireRole(auth.RoleRequester), s.submit)
	em.GET("/pending", requireRole(auth.RoleProvider), s.listPending)
	em.GET("/:id", s.getEmergency)
	em.POST("/:id/accept", requireRole(auth.RoleProvider), s.accept)
	em.POST("/:id/reject", requireRole(auth.RoleProvider), s.reject)
	em.POST("/:id/incident", requireRole(auth.RoleProvider), s.incident)
	em.POST("/:id/cancel", requireRole(auth.RoleRequester), s.cancel)
	em.POST("/:id/tracking", requireRole(auth.RoleRequester, auth.RoleProvider), s.tracking)

	pr := authed.Group("/providers/:id")
	pr.POST("/availability", requireRole(auth.RoleProvider, auth.RoleSupport), s.availability)
	pr.GET("/reliability", requireRole(auth.RoleProvider, auth.RoleSupport), s.reliability)

	ap := authed.Group("/appointments/:id")
	ap.POST("/cancel-by-provider", requireRole(auth.RoleProvider), s.cancelAppointment)
	ap.POST("/no-show", requireRole(auth.RoleRequester), s.noShow)

	authed.GET("/dispatch/logs", requireRole(auth.RoleSupport), gin.WrapH(apidispatch.NewLogHandler(d.Audit)))
	return r, nil
}
