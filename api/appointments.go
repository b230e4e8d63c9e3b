package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/vetdispatch/core/model"
	"github.com/kilianp07/vetdispatch/core/policy"
)

type providerCancelBody struct {
	Reason     string `json:"reason" binding:"required"`
	ReasonCode string `json:"reason_code"`
}

type cancelResponse struct {
	Outcome         policy.Outcome           `json:"outcome"`
	RequiresSupport bool                     `json:"requires_support"`
	Appointment     model.Appointment        `json:"appointment"`
	Reliability     model.ReliabilityProfile `json:"reliability"`
}

func (s *server) cancelAppointment(c *gin.Context) {
	var in providerCancelBody
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "api.cancel_appointment", err)
		return
	}
	res, err := s.Policy.CancelAppointment(c.Request.Context(), policy.CancelRequest{
		AppointmentID: c.Param("id"),
		ProviderID:    actorOf(c).ID,
		Reason:        in.Reason,
		ReasonCode:    in.ReasonCode,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cancelResponse{
		Outcome:         res.Outcome,
		RequiresSupport: res.RequiresSupport,
		Appointment:     res.Appointment,
		Reliability:     res.Reliability,
	})
}

func (s *server) noShow(c *gin.Context) {
	rel, err := s.Policy.RecordNoShow(c.Request.Context(), c.Param("id"), actorOf(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}
