package metrics

import "sync"

// Event counter names. Every locally-recovered failure in the relay shows up
// here and in logs, and nowhere else; none of them is fatal to the process.
const (
	DecodeFailure     = "decode_failure"
	ProtocolMisuse    = "protocol_misuse"
	Joins             = "joins"
	Leaves            = "leaves"
	RelayForwarded    = "relay_forwarded"
	RelayUnreachable  = "relay_unreachable"
	SessionConflicts  = "session_conflicts"
	StalePeersEvicted = "stale_peers_evicted"
	SendQueueDrops    = "send_queue_drops"
	RateLimited       = "rate_limited"
	AuthFailures      = "auth_failures"
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment is expected to plug into a real metrics backend;
// this type keeps the signaling logic testable while still exposing counters
// over /metrics in Prometheus' text format.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc and Add are safe on a nil receiver so callers can run without a
// registry wired in (tests, tools).
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
