package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/vetdispatch/auth"
	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/dispatch"
	"github.com/kilianp07/vetdispatch/core/model"
)

type reasonBody struct {
	Reason string `json:"reason"`
}

type incidentBody struct {
	Reason               string `json:"reason" binding:"required"`
	RequiresReassignment bool   `json:"requires_reassignment"`
}

type trackingBody struct {
	SubStatus model.TrackingStatus `json:"sub_status" binding:"required"`
}

func (s *server) submit(c *gin.Context) {
	var in dispatch.SubmitRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "api.submit", err)
		return
	}
	in.RequesterID = actorOf(c).ID
	req, err := s.Manager.Submit(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (s *server) listPending(c *gin.Context) {
	reqs, err := s.Manager.ListPending(c.Request.Context(), actorOf(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if reqs == nil {
		reqs = []model.EmergencyRequest{}
	}
	c.JSON(http.StatusOK, reqs)
}

func (s *server) getEmergency(c *gin.Context) {
	req, err := s.Manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !canSee(actorOf(c), req) {
		s.fail(c, apperr.Forbidden("api.get", "not a party to request %s", req.ID))
		return
	}
	c.JSON(http.StatusOK, req)
}

// canSee reports whether a is the requester, the assigned provider, the
// provider currently holding the offer, or support.
func canSee(a auth.Actor, req model.EmergencyRequest) bool {
	switch a.Role {
	case auth.RoleSupport:
		return true
	case auth.RoleRequester:
		return req.RequesterID == a.ID
	case auth.RoleProvider:
		return req.AssignedProviderID == a.ID || (req.Offer != nil && req.Offer.CandidateID == a.ID)
	}
	return false
}

func (s *server) accept(c *gin.Context) {
	req, err := s.Manager.Accept(c.Request.Context(), c.Param("id"), actorOf(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *server) reject(c *gin.Context) {
	var in reasonBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			s.badRequest(c, "api.reject", err)
			return
		}
	}
	req, err := s.Manager.Reject(c.Request.Context(), c.Param("id"), actorOf(c).ID, in.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *server) incident(c *gin.Context) {
	var in incidentBody
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "api.incident", err)
		return
	}
	req, err := s.Manager.ReportIncident(c.Request.Context(), c.Param("id"), actorOf(c).ID, in.Reason, in.RequiresReassignment)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *server) cancel(c *gin.Context) {
	var in reasonBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			s.badRequest(c, "api.cancel", err)
			return
		}
	}
	req, err := s.Manager.Cancel(c.Request.Context(), c.Param("id"), actorOf(c).ID, in.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *server) tracking(c *gin.Context) {
	var in trackingBody
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "api.tracking", err)
		return
	}
	req, err := s.Manager.UpdateTracking(c.Request.Context(), c.Param("id"), actorOf(c).ID, in.SubStatus)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
