// Package realtime streams room events to websocket clients.
package realtime

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/vetdispatch/core/events"
	"github.com/kilianp07/vetdispatch/core/notify"
	"github.com/kilianp07/vetdispatch/infra/logger"
)

// Config holds websocket settings.
type Config struct {
	Enabled        bool     `json:"enabled"`
	Buffer         int      `json:"buffer"`
	WriteTimeoutMS int      `json:"write_timeout_ms"`
	PingIntervalS  int      `json:"ping_interval_s"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Buffer <= 0 {
		c.Buffer = 32
	}
	if c.WriteTimeoutMS <= 0 {
		c.WriteTimeoutMS = 5000
	}
	if c.PingIntervalS <= 0 {
		c.PingIntervalS = 25
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Buffer < 0 || c.WriteTimeoutMS < 0 || c.PingIntervalS < 0 {
		return fmt.Errorf("realtime: negative values are not allowed")
	}
	return nil
}

var activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "realtime_connections",
	Help: "Open websocket connections",
})

func init() {
	prometheus.MustRegister(activeConnections)
}

const maxInboundBytes = 512

// Server upgrades HTTP requests and forwards hub envelopes to the socket.
type Server struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
	write    time.Duration
	ping     time.Duration
	log      logger.Logger
}

// NewServer builds a websocket server reading from hub.
func NewServer(hub *notify.Hub, cfg Config) (*Server, error) {
	if hub == nil {
		return nil, fmt.Errorf("realtime: nil parameter provided to NewServer")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				o := r.Header.Get("Origin")
				return len(origins) == 0 || o == "" || origins[o]
			},
		},
		write: time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		ping:  time.Duration(cfg.PingIntervalS) * time.Second,
		log:   logger.New("realtime"),
	}, nil
}

// Serve joins rooms, upgrades the connection and blocks until the client
// goes away or the hub closes. Rooms must already be authorized.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, rooms []string) error {
	if len(rooms) == 0 {
		return fmt.Errorf("realtime: at least one room is required")
	}
	for _, room := range rooms {
		if !events.ValidRoom(room) {
			return fmt.Errorf("realtime: invalid room %q", room)
		}
	}

	out := make(chan events.Envelope)
	done := make(chan struct{})
	var (
		wg     sync.WaitGroup
		leaves []func()
	)
	for _, room := range rooms {
		ch, leave := s.hub.Subscribe(room)
		leaves = append(leaves, leave)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case env, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- env:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}()
	}
	// hubClosed fires when every room channel has been closed.
	hubClosed := make(chan struct{})
	go func() {
		wg.Wait()
		close(hubClosed)
	}()
	defer func() {
		for _, leave := range leaves {
			leave()
		}
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		close(done)
		return fmt.Errorf("realtime: upgrade: %w", err)
	}
	activeConnections.Inc()
	defer activeConnections.Dec()
	defer conn.Close()
	s.log.Infof("websocket joined %v", rooms)

	readErr := make(chan struct{})
	go s.readPump(conn, readErr)

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	defer close(done)
	for {
		select {
		case env := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(s.write))
			if err := conn.WriteJSON(env); err != nil {
				s.log.Warnf("websocket write: %v", err)
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.write)); err != nil {
				return nil
			}
		case <-readErr:
			return nil
		case <-hubClosed:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(s.write))
			return nil
		}
	}
}

// readPump drains client frames so that control frames are processed.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxInboundBytes)
	deadline := func() { _ = conn.SetReadDeadline(time.Now().Add(2 * s.ping)) }
	deadline()
	conn.SetPongHandler(func(string) error { deadline(); return nil })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
