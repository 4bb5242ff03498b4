package hub

import (
	"log/slog"

	"github.com/rickgao/roomcast/internal/room"
)

// BroadcastResult summarizes one Broadcast call.
type BroadcastResult struct {
	Delivered int
	Dropped   int
}

// Broadcaster delivers events to every member of a room. A member whose send
// fails is unregistered on the spot; that is how peers that vanished without
// a close are usually noticed.
type Broadcaster struct {
	registry *Registry
	presence *PresenceTracker
	observer Observer
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster over registry. Presence notifications
// after drops are enabled once the Broadcaster is attached to a tracker.
func NewBroadcaster(registry *Registry, observer Observer, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Broadcaster{
		registry: registry,
		observer: observer,
		logger:   logger,
	}
}

// Broadcast sends ev to the current snapshot of the room. Each member gets at
// most one attempt. If anyone was dropped, one presence update follows.
func (b *Broadcaster) Broadcast(id room.PartitionID, ev Event) BroadcastResult {
	rs := b.registry.room(id)

	rs.sendMu.Lock()
	var res BroadcastResult
	for _, s := range b.registry.Snapshot(id) {
		if err := s.send(ev); err != nil {
			if b.registry.Unregister(id, s) {
				res.Dropped++
				b.observer.SubscriberRemoved(id, ReasonSendFailed)
				b.logger.Debug("dropped subscriber after failed send",
					"room", id,
					"subscriber", s.ID(),
					"nickname", s.Nickname(),
					"error", err,
				)
			}
			continue
		}
		res.Delivered++
	}
	rs.sendMu.Unlock()

	b.observer.Broadcasted(id, res.Delivered, res.Dropped)

	if res.Dropped > 0 && b.presence != nil {
		b.presence.NotifyChange(id)
	}
	return res
}
