package notify

import (
	"context"
	"sync"

	"github.com/kilianp07/vetdispatch/core/events"
)

// Recorder captures deliveries for tests and scenario replay. Err, when set,
// is returned from every Notify after recording.
type Recorder struct {
	mu         sync.Mutex
	Deliveries []Delivery
	Err        error
}

func (r *Recorder) Notify(_ context.Context, room string, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Deliveries = append(r.Deliveries, Delivery{Room: room, Event: ev})
	return r.Err
}

// For returns the events delivered to room in order.
func (r *Recorder) For(room string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, d := range r.Deliveries {
		if d.Room == room {
			out = append(out, d.Event)
		}
	}
	return out
}

// Named returns every delivery of the given event name.
func (r *Recorder) Named(name events.Name) []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Delivery
	for _, d := range r.Deliveries {
		if d.Event.EventName() == name {
			out = append(out, d)
		}
	}
	return out
}

// Reset clears recorded deliveries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.Deliveries = nil
	r.mu.Unlock()
}
