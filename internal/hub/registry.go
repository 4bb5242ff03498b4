package hub

import (
	"sort"
	"sync"

	"github.com/rickgao/roomcast/internal/room"
)

// Registry owns the live subscriber set of every room. Rooms are created on
// first use and never removed.
type Registry struct {
	mu    sync.RWMutex // guards rooms map only
	rooms map[room.PartitionID]*roomState
}

// roomState is one room's membership. mu serializes mutation and snapshots;
// sendMu serializes broadcasts so they reach members in call order.
type roomState struct {
	mu      sync.RWMutex
	members []*Subscriber

	sendMu sync.Mutex
}

// RoomStats is a point-in-time count for one room.
type RoomStats struct {
	Room        room.PartitionID
	Subscribers int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[room.PartitionID]*roomState),
	}
}

// Register adds s to the room. Registering twice in the same room is a no-op.
// A subscriber bound to another room or already terminated is refused.
func (r *Registry) Register(id room.PartitionID, s *Subscriber) error {
	if err := s.bind(id); err != nil {
		return err
	}

	rs := r.room(id)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	// The stream may have been torn down between bind and here.
	if s.Terminated() {
		return ErrTerminated
	}
	for _, m := range rs.members {
		if m == s {
			return nil
		}
	}
	rs.members = append(rs.members, s)
	return nil
}

// Unregister removes s from the room and terminates it. It reports whether s
// was a member; removing a non-member is a no-op.
func (r *Registry) Unregister(id room.PartitionID, s *Subscriber) bool {
	rs := r.lookup(id)
	if rs == nil {
		return false
	}

	rs.mu.Lock()
	removed := false
	for i, m := range rs.members {
		if m == s {
			last := len(rs.members) - 1
			copy(rs.members[i:], rs.members[i+1:])
			rs.members[last] = nil
			rs.members = rs.members[:last]
			removed = true
			break
		}
	}
	if removed {
		s.terminate()
	}
	rs.mu.Unlock()

	return removed
}

// Snapshot returns the room's members in registration order. The slice is a
// copy and safe to iterate without locks.
func (r *Registry) Snapshot(id room.PartitionID) []*Subscriber {
	rs := r.lookup(id)
	if rs == nil {
		return nil
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]*Subscriber, len(rs.members))
	copy(out, rs.members)
	return out
}

// Find returns the members of a room with the given nickname.
func (r *Registry) Find(id room.PartitionID, nickname string) []*Subscriber {
	var out []*Subscriber
	for _, s := range r.Snapshot(id) {
		if s.Nickname() == nickname {
			out = append(out, s)
		}
	}
	return out
}

// Rooms lists every room the registry has seen, sorted.
func (r *Registry) Rooms() []room.PartitionID {
	r.mu.RLock()
	out := make([]room.PartitionID, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats returns per-room subscriber counts.
func (r *Registry) Stats() []RoomStats {
	rooms := r.Rooms()
	out := make([]RoomStats, 0, len(rooms))
	for _, id := range rooms {
		rs := r.lookup(id)
		rs.mu.RLock()
		n := len(rs.members)
		rs.mu.RUnlock()
		out = append(out, RoomStats{Room: id, Subscribers: n})
	}
	return out
}

// Total returns the number of live subscribers across all rooms.
func (r *Registry) Total() int {
	total := 0
	for _, s := range r.Stats() {
		total += s.Subscribers
	}
	return total
}

func (r *Registry) lookup(id room.PartitionID) *roomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[id]
}

// room returns the state for id, creating it if needed.
func (r *Registry) room(id room.PartitionID) *roomState {
	if rs := r.lookup(id); rs != nil {
		return rs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[id]
	if !ok {
		rs = &roomState{}
		r.rooms[id] = rs
	}
	return rs
}
