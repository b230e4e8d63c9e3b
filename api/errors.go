package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/vetdispatch/core/apperr"
)

// errorBody is the JSON body of every failed request.
type errorBody struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindStateConflict:
		return http.StatusConflict
	case apperr.KindHardLimitExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, errorBody{Error: kind, Message: msg})
}

func (s *server) badRequest(c *gin.Context, op string, err error) {
	s.fail(c, apperr.Validation(op, "invalid body: %v", err))
}
