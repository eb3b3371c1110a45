package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spkmeeting/signal-relay/internal/metrics"
	"github.com/spkmeeting/signal-relay/internal/registry"
)

// fakeHandle is a controllable registry.Handle standing in for a connection.
type fakeHandle struct {
	mu     sync.Mutex
	accept bool
	frames [][]byte
	closed int
}

func (h *fakeHandle) TrySend(frame []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.accept {
		return false
	}
	h.frames = append(h.frames, frame)
	return true
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	h.closed++
	h.mu.Unlock()
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) frameTypes(t *testing.T) []string {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.frames))
	for _, frame := range h.frames {
		var m map[string]any
		if err := json.Unmarshal(frame, &m); err != nil {
			t.Fatalf("undecodable frame %q: %v", frame, err)
		}
		typ, _ := m["type"].(string)
		out = append(out, typ)
	}
	return out
}

func newTestReconciler(t *testing.T) (*reconciler, *int) {
	t.Helper()
	sleeps := 0
	r := &reconciler{
		rooms:       registry.NewRooms(),
		peers:       registry.NewPeers(),
		metrics:     metrics.New(),
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		settleDelay: 25 * time.Millisecond,
		sleep:       func(time.Duration) { sleeps++ },
	}
	return r, &sleeps
}

func TestReconcileCleanStateIsQuiet(t *testing.T) {
	r, sleeps := newTestReconciler(t)
	self := &fakeHandle{accept: true}

	r.run("meet", "alice", self)

	if *sleeps != 0 {
		t.Fatalf("settle pause taken with no conflict")
	}
	if got := r.metrics.Get(metrics.SessionConflicts); got != 0 {
		t.Fatalf("session_conflicts=%d, want 0", got)
	}
}

func TestReconcileOwnHandleIsNotAConflict(t *testing.T) {
	r, sleeps := newTestReconciler(t)
	self := &fakeHandle{accept: true}
	r.peers.Register("alice", self)

	r.run("meet", "alice", self)

	if *sleeps != 0 {
		t.Fatalf("settle pause taken for the connection's own handle")
	}
	if self.closeCount() != 0 {
		t.Fatalf("own handle closed")
	}
	if h, ok := r.peers.Get("alice"); !ok || h != registry.Handle(self) {
		t.Fatalf("own handle was evicted")
	}
}

func TestReconcileEvictsConflictingSession(t *testing.T) {
	r, sleeps := newTestReconciler(t)
	stale := &fakeHandle{accept: true}
	self := &fakeHandle{accept: true}

	r.rooms.Join("meet", "alice")
	r.peers.Register("alice", stale)

	r.run("meet", "alice", self)

	if got := r.metrics.Get(metrics.SessionConflicts); got != 1 {
		t.Fatalf("session_conflicts=%d, want 1", got)
	}
	if *sleeps != 1 {
		t.Fatalf("sleeps=%d, want 1 settle pause", *sleeps)
	}
	if stale.closeCount() != 1 {
		t.Fatalf("stale handle close count=%d, want 1", stale.closeCount())
	}
	if types := stale.frameTypes(t); len(types) != 1 || types[0] != "session_conflict" {
		t.Fatalf("stale handle frames: %v, want [session_conflict]", types)
	}
	if _, ok := r.peers.Get("alice"); ok {
		t.Fatalf("stale handle still registered")
	}
	if r.rooms.Contains("meet", "alice") {
		t.Fatalf("stale membership not removed")
	}
}

func TestReconcileResidualMembershipWithoutHandle(t *testing.T) {
	r, sleeps := newTestReconciler(t)
	self := &fakeHandle{accept: true}

	// Membership survived a crash but the handle is gone.
	r.rooms.Join("meet", "alice")

	r.run("meet", "alice", self)

	if r.rooms.Contains("meet", "alice") {
		t.Fatalf("residual membership not removed")
	}
	if *sleeps != 1 {
		t.Fatalf("sleeps=%d, want 1", *sleeps)
	}
}

func TestSweepEvictsUnresponsiveMember(t *testing.T) {
	r, _ := newTestReconciler(t)
	dead := &fakeHandle{accept: false}
	live := &fakeHandle{accept: true}

	r.rooms.Join("meet", "bob")
	r.rooms.Join("meet", "carol")
	r.peers.Register("bob", dead)
	r.peers.Register("carol", live)

	r.sweep("meet", "alice")

	if r.rooms.Contains("meet", "bob") {
		t.Fatalf("unresponsive member still in room")
	}
	if _, ok := r.peers.Get("bob"); ok {
		t.Fatalf("unresponsive member's handle still registered")
	}
	if dead.closeCount() != 1 {
		t.Fatalf("unresponsive handle close count=%d, want 1", dead.closeCount())
	}
	if got := r.metrics.Get(metrics.StalePeersEvicted); got != 1 {
		t.Fatalf("stale_peers_evicted=%d, want 1", got)
	}

	// The survivor saw the liveness probe, then the eviction notice.
	types := live.frameTypes(t)
	if len(types) != 2 || types[0] != "pong" || types[1] != "user_disconnected" {
		t.Fatalf("survivor frames: %v, want [pong user_disconnected]", types)
	}
	if !r.rooms.Contains("meet", "carol") {
		t.Fatalf("responsive member was evicted")
	}
}

func TestSweepEvictsMemberWithNoHandle(t *testing.T) {
	r, _ := newTestReconciler(t)

	r.rooms.Join("meet", "ghost")

	r.sweep("meet", "alice")

	if r.rooms.Contains("meet", "ghost") {
		t.Fatalf("handleless member still in room")
	}
	if got := r.metrics.Get(metrics.StalePeersEvicted); got != 1 {
		t.Fatalf("stale_peers_evicted=%d, want 1", got)
	}
}

func TestSweepSkipsTheJoiner(t *testing.T) {
	r, _ := newTestReconciler(t)

	// The joiner's own membership may already exist mid-join; the sweep must
	// never probe or evict it.
	r.rooms.Join("meet", "alice")

	r.sweep("meet", "alice")

	if !r.rooms.Contains("meet", "alice") {
		t.Fatalf("sweep evicted the joining user")
	}
	if got := r.metrics.Get(metrics.StalePeersEvicted); got != 0 {
		t.Fatalf("stale_peers_evicted=%d, want 0", got)
	}
}
