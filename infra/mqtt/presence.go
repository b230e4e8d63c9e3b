package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/vetdispatch/core/model"
	"github.com/kilianp07/vetdispatch/infra/logger"
)

// PresenceUpdate is the payload a provider app publishes on its presence topic.
type PresenceUpdate struct {
	ProviderID   string               `json:"provider_id,omitempty"`
	AvailableNow bool                 `json:"available_now"`
	Status       model.PresenceStatus `json:"status"`
}

// PresenceFunc applies a presence change and returns how many waiting
// requests were restarted.
type PresenceFunc func(ctx context.Context, providerID string, availableNow bool, status model.PresenceStatus) (model.Provider, int, error)

var presenceUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "mqtt_presence_updates_total",
	Help: "Provider presence messages received over MQTT by result",
}, []string{"result"})

func init() {
	prometheus.MustRegister(presenceUpdates)
}

// PresenceListener feeds provider presence messages into the dispatcher.
type PresenceListener struct {
	sub     Subscriber
	apply   PresenceFunc
	prefix  string
	qos     byte
	timeout time.Duration
	log     logger.Logger
}

// NewPresenceListener builds a listener; call Start to subscribe.
func NewPresenceListener(sub Subscriber, cfg Config, apply PresenceFunc) (*PresenceListener, error) {
	if sub == nil || apply == nil {
		return nil, fmt.Errorf("mqtt: nil parameter provided to NewPresenceListener")
	}
	cfg.SetDefaults()
	return &PresenceListener{
		sub:     sub,
		apply:   apply,
		prefix:  cfg.TopicPrefix,
		qos:     cfg.qos(QoSPresence),
		timeout: 5 * time.Second,
		log:     logger.New("mqtt_presence"),
	}, nil
}

// Topic returns the wildcard filter the listener subscribes to.
func (l *PresenceListener) Topic() string {
	return l.prefix + "/providers/+/presence"
}

// PresenceTopic returns the topic a given provider publishes on.
func PresenceTopic(prefix, providerID string) string {
	return prefix + "/providers/" + providerID + "/presence"
}

// Start subscribes to the presence topic filter.
func (l *PresenceListener) Start() error {
	return l.sub.Subscribe(l.Topic(), l.qos, l.Handle)
}

// Handle decodes and applies one presence message.
func (l *PresenceListener) Handle(topic string, payload []byte) {
	if err := l.handle(topic, payload); err != nil {
		l.log.Warnf("presence on %s: %v", topic, err)
	}
}

func (l *PresenceListener) handle(topic string, payload []byte) error {
	var u PresenceUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		presenceUpdates.WithLabelValues("invalid").Inc()
		return fmt.Errorf("decode: %w", err)
	}
	id := providerFromTopic(topic)
	if id == "" || (u.ProviderID != "" && u.ProviderID != id) {
		presenceUpdates.WithLabelValues("invalid").Inc()
		return fmt.Errorf("provider id mismatch between topic and payload")
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	_, restarted, err := l.apply(ctx, id, u.AvailableNow, u.Status)
	if err != nil {
		presenceUpdates.WithLabelValues("failed").Inc()
		return err
	}
	presenceUpdates.WithLabelValues("applied").Inc()
	l.log.Debugw("presence applied", map[string]any{
		"provider_id":   id,
		"available_now": u.AvailableNow,
		"status":        string(u.Status),
		"restarted":     restarted,
	})
	return nil
}

// providerFromTopic extracts the id of "<prefix>/providers/<id>/presence".
func providerFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "presence" || parts[len(parts)-3] != "providers" {
		return ""
	}
	return parts[len(parts)-2]
}
