// Package natsbus mirrors room events onto NATS subjects so that other
// services can consume dispatch activity.
package natsbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/events"
	"github.com/kilianp07/vetdispatch/infra/logger"
)

// Config holds NATS connection settings.
type Config struct {
	Enabled         bool   `json:"enabled"`
	URL             string `json:"url"`
	Name            string `json:"name"`
	SubjectPrefix   string `json:"subject_prefix"`
	ReconnectWaitMS int    `json:"reconnect_wait_ms"`
	MaxReconnects   int    `json:"max_reconnects"`
	ConnectTimeoutS int    `json:"connect_timeout_s"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "vetdispatch"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "vetdispatch"
	}
	if c.ReconnectWaitMS <= 0 {
		c.ReconnectWaitMS = 2000
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
	if c.ConnectTimeoutS <= 0 {
		c.ConnectTimeoutS = 5
	}
}

// Validate checks the configuration of an enabled connection.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return fmt.Errorf("nats: url is required")
	}
	if strings.ContainsAny(c.SubjectPrefix, " *>") {
		return fmt.Errorf("nats: subject_prefix %q contains wildcards", c.SubjectPrefix)
	}
	return nil
}

// Subject maps a room such as "request:r1" to "<prefix>.rooms.request.r1".
func Subject(prefix, room string) (string, error) {
	if !events.ValidRoom(room) {
		return "", fmt.Errorf("nats: invalid room %q", room)
	}
	kind, id, _ := strings.Cut(room, ":")
	if strings.ContainsAny(id, ". *>") {
		return "", fmt.Errorf("nats: room id %q contains subject tokens", id)
	}
	return prefix + ".rooms." + kind + "." + id, nil
}

type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// Notifier publishes event envelopes to NATS, one subject per room.
type Notifier struct {
	nc     conn
	prefix string
	now    func() time.Time
	log    logger.Logger
}

var connect = func(cfg Config, log logger.Logger) (conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWaitMS)*time.Millisecond),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(time.Duration(cfg.ConnectTimeoutS)*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// New connects to the NATS server.
func New(cfg Config) (*Notifier, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.New("natsbus")
	nc, err := connect(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Notifier{nc: nc, prefix: cfg.SubjectPrefix, now: time.Now, log: log}, nil
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, room string, ev events.Event) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindNotificationFailed, "nats.notify", err)
	}
	subj, err := Subject(n.prefix, room)
	if err != nil {
		return apperr.Wrap(apperr.KindNotificationFailed, "nats.notify", err)
	}
	payload, err := events.Wrap(room, ev, n.now().UTC()).Marshal()
	if err != nil {
		return apperr.Wrap(apperr.KindNotificationFailed, "nats.notify", err)
	}
	if err := n.nc.Publish(subj, payload); err != nil {
		return apperr.Wrap(apperr.KindNotificationFailed, "nats.notify", err)
	}
	n.log.Debugf("published %s to %s", ev.EventName(), subj)
	return nil
}

// Close drains pending messages and closes the connection.
func (n *Notifier) Close() error {
	return n.nc.Drain()
}
