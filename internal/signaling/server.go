// Package signaling implements the WebSocket signaling surface: one actor
// per connection, shared room/peer registries, and join-time reconciliation
// of stale sessions.
package signaling

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/spkmeeting/signal-relay/internal/config"
	"github.com/spkmeeting/signal-relay/internal/metrics"
	"github.com/spkmeeting/signal-relay/internal/origin"
	"github.com/spkmeeting/signal-relay/internal/ratelimit"
	"github.com/spkmeeting/signal-relay/internal/registry"
)

// Server upgrades HTTP requests at the signaling endpoint and runs one Conn
// per accepted WebSocket. The registries are shared across all connections
// and are the only shared mutable state in the core.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	rooms *registry.Rooms
	peers *registry.Peers

	clock ratelimit.Clock
	sleep func(time.Duration)

	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, rooms *registry.Rooms, peers *registry.Peers) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		metrics: m,
		rooms:   rooms,
		peers:   peers,
		clock:   ratelimit.RealClock{},
		sleep:   time.Sleep,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return origin.Allowed(r.Header.Get("Origin"), cfg.AllowedOrigins)
		},
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error (e.g. 403 on origin check).
		s.log.Debug("websocket upgrade rejected", "remote", r.RemoteAddr, "err", err)
		return
	}

	s.metrics.Inc(metrics.ConnectionsOpened)
	c := newConn(s, ws, uuid.NewString())
	s.log.Debug("connection established", "conn_id", c.id, "remote", r.RemoteAddr)
	c.run()
}
