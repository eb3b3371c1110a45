package signaling

import (
	"log/slog"
	"time"

	"github.com/spkmeeting/signal-relay/internal/metrics"
	"github.com/spkmeeting/signal-relay/internal/protocol"
	"github.com/spkmeeting/signal-relay/internal/registry"
)

// reconciler repairs residual session state at the start of every join.
//
// A user may legitimately reconnect while its previous connection's teardown
// has not run yet, leaving a stale handle that still looks live and corrupts
// fan-out targeting. The reconciler evicts such state eagerly, accepting a
// small fixed latency and an O(room size) sweep per join instead of
// requiring an external session coordinator.
type reconciler struct {
	rooms   *registry.Rooms
	peers   *registry.Peers
	metrics *metrics.Metrics
	log     *slog.Logger

	settleDelay time.Duration
	sleep       func(time.Duration)
}

// run executes reconciliation for user joining room through the connection
// owning self. It must complete before the join mutates any registry.
func (r *reconciler) run(room, user string, self registry.Handle) {
	inRoom := r.rooms.Contains(room, user)
	prev, hasHandle := r.peers.Get(user)
	if hasHandle && prev == self {
		// Re-join from the same connection; nothing to evict.
		hasHandle = false
	}

	if inRoom || hasHandle {
		r.metrics.Inc(metrics.SessionConflicts)
		r.log.Warn("evicting conflicting prior session",
			"user", user, "room", room, "in_room", inRoom, "had_handle", hasHandle)

		if old, ok := r.peers.Unregister(user); ok && old != self {
			// Best-effort: the old client, if still listening, learns it has
			// been superseded. Delivery failure is expected and ignored.
			old.TrySend(protocol.SessionConflictNotice(user, room, "superseded by a newer connection"))
			old.Close()
		}
		r.rooms.Leave(room, user)

		// Give the old connection's in-flight teardown a bounded window to
		// settle before the new join inserts fresh state.
		r.sleep(r.settleDelay)
	}

	r.sweep(room, user)
}

// sweep probes every other current member of room and forcibly evicts those
// whose handles no longer accept a send. Probe failure is a heuristic, not a
// guarantee: a slow-but-alive connection can be misclassified, which is the
// accepted trade-off absent a ground-truth liveness signal.
func (r *reconciler) sweep(room, joining string) {
	var alive, evicted []string
	for _, member := range r.rooms.MembersExcept(room, joining) {
		h, ok := r.peers.Get(member)
		// A pong is the one server-to-client frame every client already
		// tolerates, so it doubles as the liveness probe.
		if ok && h.TrySend(protocol.Pong()) {
			alive = append(alive, member)
			continue
		}

		if ok {
			r.peers.UnregisterHandle(member, h)
			h.Close()
		}
		r.rooms.Leave(room, member)
		r.metrics.Inc(metrics.StalePeersEvicted)
		r.log.Warn("evicted unresponsive room member", "room", room, "member", member)
		evicted = append(evicted, member)
	}

	for _, member := range evicted {
		note := protocol.UserDisconnectedNotice(member, room, "liveness probe failed")
		for _, target := range alive {
			if !r.peers.Send(target, note) {
				r.log.Debug("survivor unreachable during eviction fan-out", "room", room, "member", target)
			}
		}
	}
}
