package mqtt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/events"
)

// RoomTopic maps a room such as "provider:v1" to "<prefix>/rooms/provider/v1".
func RoomTopic(prefix, room string) (string, error) {
	if !events.ValidRoom(room) {
		return "", fmt.Errorf("mqtt: invalid room %q", room)
	}
	kind, id, _ := strings.Cut(room, ":")
	if strings.ContainsAny(id, "/+#") {
		return "", fmt.Errorf("mqtt: room id %q contains topic separators", id)
	}
	return prefix + "/rooms/" + kind + "/" + id, nil
}

// RoomNotifier publishes event envelopes to one MQTT topic per room.
type RoomNotifier struct {
	pub    Publisher
	prefix string
	qos    byte
	now    func() time.Time
}

// NewRoomNotifier builds a notifier on top of pub.
func NewRoomNotifier(pub Publisher, cfg Config) (*RoomNotifier, error) {
	if pub == nil {
		return nil, fmt.Errorf("mqtt: nil parameter provided to NewRoomNotifier")
	}
	cfg.SetDefaults()
	return &RoomNotifier{pub: pub, prefix: cfg.TopicPrefix, qos: cfg.qos(QoSEvents), now: time.Now}, nil
}

// Notify implements notify.Notifier.
func (n *RoomNotifier) Notify(ctx context.Context, room string, ev events.Event) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindNotificationFailed, "mqtt.notify", err)
	}
	topic, err := RoomTopic(n.prefix, room)
	if err != nil {
		return apperr.Wrap(apperr.KindNotificationFailed, "mqtt.notify", err)
	}
	payload, err := events.Wrap(room, ev, n.now().UTC()).Marshal()
	if err != nil {
		return apperr.Wrap(apperr.KindNotificationFailed, "mqtt.notify", err)
	}
	if err := n.pub.Publish(topic, n.qos, payload); err != nil {
		return apperr.Wrap(apperr.KindNotificationFailed, "mqtt.notify", err)
	}
	return nil
}
