package hub

import (
	"encoding/json"

	"github.com/rickgao/roomcast/internal/room"
)

// Event types pushed by the hub.
const (
	EventMessage = "message"
	EventOnline  = "online"
	EventInfo    = "info"
)

// Presence is the online view of a room: distinct non-empty nicknames.
type Presence struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// PresenceTracker derives presence from registry snapshots.
type PresenceTracker struct {
	registry    *Registry
	broadcaster *Broadcaster
}

// NewPresenceTracker creates a tracker and attaches it to broadcaster, so
// drops during a broadcast produce presence updates.
func NewPresenceTracker(registry *Registry, broadcaster *Broadcaster) *PresenceTracker {
	p := &PresenceTracker{
		registry:    registry,
		broadcaster: broadcaster,
	}
	broadcaster.presence = p
	return p
}

// OnlineUsers returns the distinct nicknames in first-seen order. Members
// without a nickname are not counted.
func (p *PresenceTracker) OnlineUsers(id room.PartitionID) Presence {
	return presenceOf(p.registry.Snapshot(id))
}

// NotifyChange broadcasts the room's current presence to its members.
func (p *PresenceTracker) NotifyChange(id room.PartitionID) {
	p.broadcaster.Broadcast(id, p.Event(id))
}

// Event formats the room's presence as an "online" event.
func (p *PresenceTracker) Event(id room.PartitionID) Event {
	data, _ := json.Marshal(p.OnlineUsers(id))
	return Event{Type: EventOnline, Data: data}
}

func presenceOf(subs []*Subscriber) Presence {
	users := make([]string, 0, len(subs))
	seen := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		name := s.Nickname()
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		users = append(users, name)
	}
	return Presence{Count: len(users), Users: users}
}
