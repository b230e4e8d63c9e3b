package notify

import (
	"context"
	"time"

	"github.com/kilianp07/vetdispatch/core/events"
	"github.com/kilianp07/vetdispatch/internal/eventbus"
)

// Hub is the in-process room channel. Subscribers receive envelopes for the
// rooms they joined; slow subscribers lose events instead of blocking senders.
type Hub struct {
	rooms *eventbus.Rooms[events.Envelope]
	now   func() time.Time
}

// NewHub creates a Hub whose subscriber buffers hold buf envelopes.
func NewHub(buf int, now func() time.Time) *Hub {
	if now == nil {
		now = time.Now
	}
	return &Hub{rooms: eventbus.NewRooms[events.Envelope](buf), now: now}
}

// Notify publishes the event to the room. Events for rooms without
// subscribers are dropped silently.
func (h *Hub) Notify(_ context.Context, room string, ev events.Event) error {
	h.rooms.Publish(room, events.Wrap(room, ev, h.now()))
	return nil
}

// Subscribe joins a room.
func (h *Hub) Subscribe(room string) (<-chan events.Envelope, func()) {
	return h.rooms.Subscribe(room)
}

// Close disconnects every subscriber.
func (h *Hub) Close() { h.rooms.Close() }
