package registry

import (
	"sync"
	"testing"
)

// fakeHandle records frames and can be flipped to reject sends.
type fakeHandle struct {
	mu     sync.Mutex
	frames [][]byte
	broken bool
}

func (h *fakeHandle) TrySend(frame []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.broken {
		return false
	}
	h.frames = append(h.frames, frame)
	return true
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	h.broken = true
	h.mu.Unlock()
}

func (h *fakeHandle) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func TestPeers_RegisterDisplacesPrevious(t *testing.T) {
	p := NewPeers()
	first := &fakeHandle{}
	second := &fakeHandle{}

	if prev, displaced := p.Register("alice", first); displaced {
		t.Fatalf("first register displaced %v", prev)
	}
	prev, displaced := p.Register("alice", second)
	if !displaced || prev != first {
		t.Fatalf("second register displaced=%v prev=%v, want first handle", displaced, prev)
	}

	// Only the new handle is reachable.
	if !p.Send("alice", []byte("x")) {
		t.Fatalf("send to re-registered peer failed")
	}
	if first.count() != 0 || second.count() != 1 {
		t.Fatalf("frames: first=%d second=%d, want 0/1", first.count(), second.count())
	}
}

func TestPeers_Unregister(t *testing.T) {
	p := NewPeers()
	h := &fakeHandle{}
	p.Register("alice", h)

	got, ok := p.Unregister("alice")
	if !ok || got != h {
		t.Fatalf("Unregister=%v,%v, want handle,true", got, ok)
	}
	if _, ok := p.Unregister("alice"); ok {
		t.Fatalf("second Unregister returned true")
	}
	if p.Len() != 0 {
		t.Fatalf("peers=%d, want 0", p.Len())
	}
}

func TestPeers_UnregisterHandleOnlyRemovesOwn(t *testing.T) {
	p := NewPeers()
	stale := &fakeHandle{}
	fresh := &fakeHandle{}

	p.Register("alice", stale)
	p.Register("alice", fresh)

	// A late teardown of the stale connection must not evict the fresh handle.
	if p.UnregisterHandle("alice", stale) {
		t.Fatalf("UnregisterHandle removed a displaced handle")
	}
	if got, ok := p.Get("alice"); !ok || got != fresh {
		t.Fatalf("Get=%v,%v, want fresh handle", got, ok)
	}

	if !p.UnregisterHandle("alice", fresh) {
		t.Fatalf("UnregisterHandle of current handle failed")
	}
	if p.Len() != 0 {
		t.Fatalf("peers=%d, want 0", p.Len())
	}
}

func TestPeers_SendBestEffort(t *testing.T) {
	p := NewPeers()

	if p.Send("ghost", []byte("x")) {
		t.Fatalf("send to unregistered peer reported delivery")
	}

	h := &fakeHandle{broken: true}
	p.Register("alice", h)
	if p.Send("alice", []byte("x")) {
		t.Fatalf("send through broken handle reported delivery")
	}
}

func TestPeers_UniquenessUnderConcurrentRegister(t *testing.T) {
	p := NewPeers()

	const workers = 16
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h := &fakeHandle{}
				if prev, displaced := p.Register("alice", h); displaced && prev == nil {
					t.Error("displaced register returned nil previous handle")
				}
			}
		}()
	}
	wg.Wait()

	if p.Len() != 1 {
		t.Fatalf("peers=%d, want exactly 1 handle for the contested id", p.Len())
	}
}
