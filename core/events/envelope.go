package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Room prefixes. A room is a logical per-entity channel.
const (
	roomRequest   = "request:"
	roomRequester = "requester:"
	roomProvider  = "provider:"
)

func RequestRoom(id string) string   { return roomRequest + id }
func RequesterRoom(id string) string { return roomRequester + id }
func ProviderRoom(id string) string  { return roomProvider + id }

// ValidRoom reports whether room uses one of the known prefixes and has an id.
func ValidRoom(room string) bool {
	for _, p := range []string{roomRequest, roomRequester, roomProvider} {
		if strings.HasPrefix(room, p) && len(room) > len(p) {
			return true
		}
	}
	return false
}

// Envelope is the wire frame of a delivered event.
type Envelope struct {
	ID      string    `json:"id"`
	Room    string    `json:"room"`
	Name    Name      `json:"event"`
	At      time.Time `json:"at"`
	Payload Event     `json:"payload"`
}

// Wrap builds an envelope with a fresh id.
func Wrap(room string, ev Event, at time.Time) Envelope {
	return Envelope{ID: uuid.NewString(), Room: room, Name: ev.EventName(), At: at, Payload: ev}
}

// Marshal encodes the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Name, err)
	}
	return b, nil
}
