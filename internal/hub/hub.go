package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rickgao/roomcast/internal/room"
)

// Hub wires the registry, broadcaster, presence tracker and health monitor
// around one shared Registry.
type Hub struct {
	Registry    *Registry
	Broadcaster *Broadcaster
	Presence    *PresenceTracker
	Monitor     *HealthMonitor

	observer Observer
	logger   *slog.Logger
}

// connectedInfo is the first event a new subscriber receives.
type connectedInfo struct {
	Type   string   `json:"type"`
	ID     string   `json:"id"` // subscriber id, accepted by liveness pings
	Online int      `json:"online"`
	Users  []string `json:"users"`
}

// New builds a Hub. observer may be nil.
func New(cfg MonitorConfig, observer Observer, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry, observer, logger)
	presence := NewPresenceTracker(registry, broadcaster)
	monitor := NewHealthMonitor(cfg, registry, presence, observer, logger)

	return &Hub{
		Registry:    registry,
		Broadcaster: broadcaster,
		Presence:    presence,
		Monitor:     monitor,
		observer:    observer,
		logger:      logger,
	}
}

// Join registers s in the room, sends it a "connected" info event with the
// current presence, then announces the new presence to the room.
func (h *Hub) Join(id room.PartitionID, s *Subscriber) (Presence, error) {
	// Broadcasts wait on the send lock, so the info event is the first frame.
	rs := h.Registry.room(id)
	rs.sendMu.Lock()
	if err := h.Registry.Register(id, s); err != nil {
		rs.sendMu.Unlock()
		return Presence{}, fmt.Errorf("register subscriber: %w", err)
	}
	h.observer.SubscriberAdded(id)

	p := h.Presence.OnlineUsers(id)
	data, _ := json.Marshal(connectedInfo{Type: "connected", ID: s.ID().String(), Online: p.Count, Users: p.Users})
	err := s.send(Event{Type: EventInfo, Data: data})
	rs.sendMu.Unlock()
	if err != nil {
		h.Drop(id, s, ReasonSendFailed)
		return Presence{}, fmt.Errorf("send connected info: %w", err)
	}

	h.logger.Info("subscriber joined",
		"room", id,
		"subscriber", s.ID(),
		"nickname", s.Nickname(),
		"remote_addr", s.RemoteAddr(),
		"online", p.Count,
	)

	h.Presence.NotifyChange(id)
	return p, nil
}

// Drop removes s after its connection ended. It reports whether s was still
// registered; only then is presence re-announced.
func (h *Hub) Drop(id room.PartitionID, s *Subscriber, reason string) bool {
	if !h.Registry.Unregister(id, s) {
		return false
	}
	h.observer.SubscriberRemoved(id, reason)
	h.logger.Info("subscriber removed",
		"room", id,
		"subscriber", s.ID(),
		"nickname", s.Nickname(),
		"reason", reason,
		"sent", s.Sent(),
	)
	h.Presence.NotifyChange(id)
	return true
}
