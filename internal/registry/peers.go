package registry

import "sync"

// Handle is the capability used to push one encoded frame to a live
// connection. TrySend must never block: it reports false when the connection
// is gone or its outbound queue is full, and the frame is dropped.
//
// Close disposes of the handle's connection and must be idempotent. Disposal
// is decoupled from removal from the map: removing a handle does not
// terminate the underlying connection, and a displaced handle must be closed
// by whoever displaced it so it cannot linger half-alive.
type Handle interface {
	TrySend(frame []byte) bool
	Close()
}

// Peers maps user id -> delivery handle. At any instant it holds at most one
// handle per user: registering a second handle for the same id returns the
// previous one so the caller can actively retire it rather than leave it
// shadowed and apparently live.
type Peers struct {
	peers sync.Map // string -> Handle
}

func NewPeers() *Peers {
	return &Peers{}
}

// Register installs h as user's handle, returning the handle it displaced,
// if any. The caller owns the displaced handle's cleanup.
func (p *Peers) Register(user string, h Handle) (prev Handle, displaced bool) {
	v, loaded := p.peers.Swap(user, h)
	if !loaded {
		return nil, false
	}
	return v.(Handle), true
}

// Unregister removes and returns user's handle, or nil if absent.
func (p *Peers) Unregister(user string) (Handle, bool) {
	v, loaded := p.peers.LoadAndDelete(user)
	if !loaded {
		return nil, false
	}
	return v.(Handle), true
}

// UnregisterHandle removes user's entry only if it still maps to h. A
// connection tearing down uses this so a late teardown never evicts the
// handle a newer connection registered for the same identity.
func (p *Peers) UnregisterHandle(user string, h Handle) bool {
	return p.peers.CompareAndDelete(user, h)
}

// Get returns user's handle without removing it.
func (p *Peers) Get(user string) (Handle, bool) {
	v, ok := p.peers.Load(user)
	if !ok {
		return nil, false
	}
	return v.(Handle), true
}

// Send delivers frame to user's handle if one is registered. It returns
// false both when no handle exists and when the handle rejected the frame;
// either way the target is unreachable and the caller logs it. Absence is
// not an error.
func (p *Peers) Send(user string, frame []byte) bool {
	h, ok := p.Get(user)
	if !ok {
		return false
	}
	return h.TrySend(frame)
}

// Len returns the number of registered peers.
func (p *Peers) Len() int {
	n := 0
	p.peers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
