package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/vetdispatch/auth"
	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/events"
)

// websocket streams the events of the requested rooms. Callers may join their
// own requester or provider room and the room of any request they are a
// party to. Support may join anything.
func (s *server) websocket(c *gin.Context) {
	a := actorOf(c)
	var rooms []string
	for _, r := range strings.Split(c.Query("rooms"), ",") {
		if r = strings.TrimSpace(r); r != "" {
			rooms = append(rooms, r)
		}
	}
	if len(rooms) == 0 {
		s.fail(c, apperr.Validation("api.ws", "rooms is required"))
		return
	}
	for _, room := range rooms {
		if !events.ValidRoom(room) {
			s.fail(c, apperr.Validation("api.ws", "invalid room %q", room))
			return
		}
		if err := s.authorizeRoom(c, a, room); err != nil {
			s.fail(c, err)
			return
		}
	}
	if err := s.Realtime.Serve(c.Writer, c.Request, rooms); err != nil {
		s.log.Warnf("websocket for %s: %v", a.ID, err)
	}
}

func (s *server) authorizeRoom(c *gin.Context, a auth.Actor, room string) error {
	if a.Role == auth.RoleSupport {
		return nil
	}
	switch {
	case a.Role == auth.RoleRequester && room == events.RequesterRoom(a.ID):
		return nil
	case a.Role == auth.RoleProvider && room == events.ProviderRoom(a.ID):
		return nil
	case strings.HasPrefix(room, "request:"):
		req, err := s.Manager.Get(c.Request.Context(), strings.TrimPrefix(room, "request:"))
		if err != nil {
			return err
		}
		if canSee(a, req) {
			return nil
		}
	}
	return apperr.Forbidden("api.ws", "room %s is not accessible", room)
}
