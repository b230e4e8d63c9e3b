package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/vetdispatch/auth"
	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/model"
)

type availabilityBody struct {
	AvailableNow *bool                `json:"available_now" binding:"required"`
	Status       model.PresenceStatus `json:"status"`
}

type availabilityResponse struct {
	Provider  model.Provider `json:"provider"`
	Restarted int            `json:"restarted_requests"`
}

// selfOrSupport guards the provider routes keyed by :id.
func selfOrSupport(c *gin.Context, op string) error {
	a := actorOf(c)
	if a.Role == auth.RoleSupport || a.ID == c.Param("id") {
		return nil
	}
	return apperr.Forbidden(op, "provider %s may only act on itself", a.ID)
}

func (s *server) availability(c *gin.Context) {
	if err := selfOrSupport(c, "api.availability"); err != nil {
		s.fail(c, err)
		return
	}
	var in availabilityBody
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "api.availability", err)
		return
	}
	p, restarted, err := s.Manager.ProviderAvailabilityChanged(c.Request.Context(), c.Param("id"), *in.AvailableNow, in.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, availabilityResponse{Provider: p, Restarted: restarted})
}

func (s *server) reliability(c *gin.Context) {
	if err := selfOrSupport(c, "api.reliability"); err != nil {
		s.fail(c, err)
		return
	}
	p, err := s.Providers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Reliability)
}
