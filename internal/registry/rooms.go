// Package registry holds the two shared mutable structures of the relay: the
// room membership map and the peer delivery-handle map.
//
// Both are safe for concurrent use from arbitrarily many connection
// goroutines. Synchronization is per-key (one small mutex per room, atomic
// map operations per peer) so unrelated rooms and users never contend.
package registry

import (
	"sort"
	"sync"
)

// Rooms maps room name -> member set. Rooms are created implicitly on the
// first join and deleted the moment their member set becomes empty; an empty
// room never persists in the map.
type Rooms struct {
	rooms sync.Map // string -> *memberSet
}

type memberSet struct {
	mu      sync.Mutex
	members map[string]struct{}

	// dead marks a set that has been emptied and removed from the map. A
	// joiner that raced the removal and still holds the stale pointer must
	// retry rather than insert into it, or the member would be lost.
	dead bool
}

func NewRooms() *Rooms {
	return &Rooms{}
}

// Join adds user to room, creating the room if absent, and returns the member
// count after insertion. Adding a user that is already a member is a no-op
// for the set (membership is exclusive).
func (r *Rooms) Join(room, user string) int {
	for {
		v, _ := r.rooms.LoadOrStore(room, &memberSet{members: make(map[string]struct{})})
		set := v.(*memberSet)

		set.mu.Lock()
		if set.dead {
			set.mu.Unlock()
			continue
		}
		set.members[user] = struct{}{}
		n := len(set.members)
		set.mu.Unlock()
		return n
	}
}

// Leave removes user from room and reports whether it was a member. If the
// set becomes empty the room entry is deleted in the same critical section,
// so no empty room is ever observable in the map.
func (r *Rooms) Leave(room, user string) bool {
	v, ok := r.rooms.Load(room)
	if !ok {
		return false
	}
	set := v.(*memberSet)

	set.mu.Lock()
	defer set.mu.Unlock()
	if set.dead {
		return false
	}
	if _, present := set.members[user]; !present {
		return false
	}
	delete(set.members, user)
	if len(set.members) == 0 {
		set.dead = true
		r.rooms.CompareAndDelete(room, v)
	}
	return true
}

// Contains reports whether user is currently a member of room.
func (r *Rooms) Contains(room, user string) bool {
	v, ok := r.rooms.Load(room)
	if !ok {
		return false
	}
	set := v.(*memberSet)

	set.mu.Lock()
	defer set.mu.Unlock()
	_, present := set.members[user]
	return present
}

// Members returns a sorted snapshot of room's members, or nil if the room
// does not exist. The snapshot is consistent at the moment of the call but
// not linearized against concurrent joins.
func (r *Rooms) Members(room string) []string {
	return r.membersExcept(room, "")
}

// MembersExcept returns a sorted snapshot of room's members other than user.
// It is the fan-out target list for join/leave notices; a member that joins
// concurrently may or may not be included, which is acceptable because every
// notice is self-contained.
func (r *Rooms) MembersExcept(room, user string) []string {
	return r.membersExcept(room, user)
}

func (r *Rooms) membersExcept(room, skip string) []string {
	v, ok := r.rooms.Load(room)
	if !ok {
		return nil
	}
	set := v.(*memberSet)

	set.mu.Lock()
	out := make([]string, 0, len(set.members))
	for m := range set.members {
		if m != skip {
			out = append(out, m)
		}
	}
	set.mu.Unlock()

	sort.Strings(out)
	return out
}

// RemoveEverywhere removes user from every room it is found in, pruning rooms
// left empty, and returns the names of the rooms it was removed from. A
// connection is expected to be in at most one room, but disconnect cleanup
// does not assume it.
func (r *Rooms) RemoveEverywhere(user string) []string {
	var removed []string
	r.rooms.Range(func(key, _ any) bool {
		room := key.(string)
		if r.Leave(room, user) {
			removed = append(removed, room)
		}
		return true
	})
	sort.Strings(removed)
	return removed
}

// Len returns the number of rooms currently in the map.
func (r *Rooms) Len() int {
	n := 0
	r.rooms.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
