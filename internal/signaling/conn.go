package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spkmeeting/signal-relay/internal/config"
	"github.com/spkmeeting/signal-relay/internal/metrics"
	"github.com/spkmeeting/signal-relay/internal/protocol"
	"github.com/spkmeeting/signal-relay/internal/ratelimit"
	"github.com/spkmeeting/signal-relay/internal/registry"
)

const wsWriteWait = 1 * time.Second

// Conn is the per-connection actor. It owns the connection's bound identity,
// decodes inbound frames sequentially on its read loop, and is the single
// writer to the transport via its outbound queue.
//
// Conn implements registry.Handle: other connections deliver frames to this
// one by enqueueing through TrySend, never by touching the socket.
type Conn struct {
	id  string
	log *slog.Logger

	cfg     config.Config
	rooms   *registry.Rooms
	peers   *registry.Peers
	metrics *metrics.Metrics

	reconciler *reconciler
	limiter    *ratelimit.TokenBucket

	ws    *websocket.Conn
	queue *sendQueue

	done      chan struct{}
	closeOnce sync.Once

	// mu guards the bound identity. The read loop is its only writer, but
	// teardown may run from another connection's goroutine via Close.
	mu      sync.Mutex
	user    string
	session string
}

func newConn(s *Server, ws *websocket.Conn, id string) *Conn {
	c := &Conn{
		id:      id,
		log:     s.log,
		cfg:     s.cfg,
		rooms:   s.rooms,
		peers:   s.peers,
		metrics: s.metrics,
		ws:      ws,
		queue:   newSendQueue(s.cfg.SendQueueBytes),
		done:    make(chan struct{}),
		reconciler: &reconciler{
			rooms:       s.rooms,
			peers:       s.peers,
			metrics:     s.metrics,
			log:         s.log,
			settleDelay: s.cfg.SessionSettleDelay,
			sleep:       s.sleep,
		},
	}
	if s.cfg.MaxMessagesPerSecond > 0 {
		rate := int64(s.cfg.MaxMessagesPerSecond)
		c.limiter = ratelimit.NewTokenBucket(s.clock, rate, rate)
	}
	return c
}

// TrySend enqueues one encoded frame for delivery. It never blocks; a full
// queue or closed connection drops the frame.
func (c *Conn) TrySend(frame []byte) bool {
	if !c.queue.Enqueue(frame) {
		c.metrics.Inc(metrics.SendQueueDrops)
		return false
	}
	return true
}

// Close tears the connection down: unregister the peer handle, remove the
// identity from every room it is found in, and notify the survivors. It is
// idempotent and safe to call from any goroutine, however the close was
// triggered.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.metrics.Inc(metrics.ConnectionsClosed)

		user, _ := c.identity()
		if user == "" {
			c.log.Debug("anonymous connection closed", "conn_id", c.id)
			return
		}

		// Only remove the handle if it is still ours; a newer connection may
		// already have claimed the identity.
		c.peers.UnregisterHandle(user, c)

		left := c.rooms.RemoveEverywhere(user)
		for _, room := range left {
			note := protocol.LeaveNotice(user, room)
			for _, member := range c.rooms.Members(room) {
				if !c.peers.Send(member, note) {
					c.log.Debug("member unreachable during disconnect fan-out", "room", room, "member", member)
				}
			}
		}
		c.log.Info("connection closed", "conn_id", c.id, "user", user, "rooms_left", left)
	})
}

func (c *Conn) bind(user, session string) {
	c.mu.Lock()
	c.user = user
	c.session = session
	c.mu.Unlock()
}

func (c *Conn) identity() (user, session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.session
}

// run services the connection until it ends, then tears it down.
func (c *Conn) run() {
	defer c.Close()
	go c.writeLoop()
	go c.pingLoop()
	c.readLoop()
}

func (c *Conn) readLoop() {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("read failed", "conn_id", c.id, "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))

		if msgType != websocket.TextMessage {
			c.log.Warn("ignoring binary frame", "conn_id", c.id)
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.metrics.Inc(metrics.RateLimited)
			c.log.Warn("closing connection: message rate exceeded", "conn_id", c.id)
			c.writeCloseFrame(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		sig, err := protocol.Decode(data)
		if err != nil {
			c.metrics.Inc(metrics.DecodeFailure)
			c.log.Warn("dropping undecodable frame", "conn_id", c.id, "err", err)
			continue
		}
		c.handleSignal(sig)
	}
}

func (c *Conn) writeLoop() {
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.log.Debug("write failed", "conn_id", c.id, "err", err)
			c.Close()
			return
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) writeCloseFrame(code int, reason string) {
	if c.ws == nil {
		return
	}
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *Conn) handleSignal(sig protocol.Signal) {
	switch msg := sig.(type) {
	case protocol.Join:
		c.handleJoin(msg)
	case protocol.Leave:
		c.handleLeave(msg)
	case protocol.Offer:
		c.relay("offer", msg.To, msg.From, protocol.RelayedOffer(msg.From, msg.SDP))
	case protocol.Answer:
		c.relay("answer", msg.To, msg.From, protocol.RelayedAnswer(msg.From, msg.SDP))
	case protocol.ICECandidate:
		c.relay("ice candidate", msg.To, msg.From, protocol.RelayedICECandidate(msg.From, msg.Candidate))
	case protocol.Ping:
		c.send(protocol.Pong())
	case protocol.TriggerOffer:
		// Server-emitted only.
		c.metrics.Inc(metrics.ProtocolMisuse)
		c.log.Warn("dropping client-sent trigger_offer", "conn_id", c.id)
	}
}

func (c *Conn) handleJoin(msg protocol.Join) {
	c.reconciler.run(msg.Room, msg.User, c)

	count := c.rooms.Join(msg.Room, msg.User)
	if prev, displaced := c.peers.Register(msg.User, c); displaced && prev != registry.Handle(c) {
		// A stale handle slipped in between reconciliation and registration.
		// Retire it; shadowed handles look live to membership checks.
		prev.Close()
	}
	c.bind(msg.User, msg.SessionID)

	c.metrics.Inc(metrics.Joins)
	c.log.Info("user joined room", "conn_id", c.id, "user", msg.User, "room", msg.Room, "members", count)

	c.send(protocol.JoinNotice(msg.User, msg.Room))

	if count <= 1 {
		return
	}
	// Existing members initiate the handshake toward the newcomer, never the
	// reverse, so each pair produces exactly one offer.
	for _, member := range c.rooms.MembersExcept(msg.Room, msg.User) {
		joined := c.peers.Send(member, protocol.JoinNotice(msg.User, msg.Room))
		triggered := c.peers.Send(member, protocol.TriggerOfferNotice(msg.User, msg.Room))
		if !joined || !triggered {
			c.log.Warn("member unreachable during join fan-out", "room", msg.Room, "member", member)
		}
	}
}

func (c *Conn) handleLeave(msg protocol.Leave) {
	if _, session := c.identity(); msg.SessionID != "" && msg.SessionID != session {
		// Forward progress beats strict fencing here: log the mismatch and
		// process the leave anyway.
		c.log.Warn("leave session token mismatch", "conn_id", c.id, "user", msg.User, "room", msg.Room)
	}

	c.rooms.Leave(msg.Room, msg.User)
	c.peers.Unregister(msg.User)

	c.metrics.Inc(metrics.Leaves)
	c.log.Info("user left room", "conn_id", c.id, "user", msg.User, "room", msg.Room)

	note := protocol.LeaveNotice(msg.User, msg.Room)
	for _, member := range c.rooms.MembersExcept(msg.Room, msg.User) {
		if !c.peers.Send(member, note) {
			c.log.Debug("member unreachable during leave fan-out", "room", msg.Room, "member", member)
		}
	}
}

// relay forwards a handshake payload verbatim. These are transient real-time
// messages: an unreachable target drops the frame with no retry, no queueing,
// and no error back to the sender.
func (c *Conn) relay(kind, to, from string, frame []byte) {
	if c.peers.Send(to, frame) {
		c.metrics.Inc(metrics.RelayForwarded)
		c.log.Debug("forwarded "+kind, "from", from, "to", to)
		return
	}
	c.metrics.Inc(metrics.RelayUnreachable)
	c.log.Warn("relay target unreachable", "kind", kind, "from", from, "to", to)
}

// send enqueues a frame for this connection itself.
func (c *Conn) send(frame []byte) {
	if !c.TrySend(frame) {
		c.log.Debug("dropped frame to own connection", "conn_id", c.id)
	}
}
