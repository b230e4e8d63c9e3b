package eventbus

import "sync"

// Rooms multiplexes typed buses by room name. A room's bus is created on first
// subscription and dropped when its last subscriber leaves.
type Rooms[T any] struct {
	mu     sync.Mutex
	rooms  map[string]*TypedBus[T]
	buf    int
	closed bool
}

// NewRooms creates a Rooms whose subscriber channels hold buf events.
func NewRooms[T any](buf int) *Rooms[T] {
	return &Rooms[T]{rooms: make(map[string]*TypedBus[T]), buf: buf}
}

// Publish delivers e to the subscribers of room. It returns the number of
// subscribers reached and the number whose buffer was full.
func (r *Rooms[T]) Publish(room string, e T) (delivered, dropped int) {
	r.mu.Lock()
	bus, ok := r.rooms[room]
	r.mu.Unlock()
	if !ok {
		return 0, 0
	}
	n := bus.Len()
	dropped = bus.Publish(e)
	return n - dropped, dropped
}

// Subscribe joins room and returns the channel with a function leaving it.
func (r *Rooms[T]) Subscribe(room string) (<-chan T, func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}
	bus, ok := r.rooms[room]
	if !ok {
		bus = NewTypedBuffered[T](r.buf)
		r.rooms[room] = bus
	}
	ch := bus.Subscribe()
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if !bus.Unsubscribe(ch) && r.rooms[room] == bus {
				delete(r.rooms, room)
			}
		})
	}
}

// Count returns the number of rooms with at least one subscriber.
func (r *Rooms[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Close closes every room.
func (r *Rooms[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for name, bus := range r.rooms {
		bus.Close()
		delete(r.rooms, name)
	}
}
