package hub

import "github.com/rickgao/roomcast/internal/room"

// Removal reasons reported to an Observer.
const (
	ReasonSendFailed   = "send_failed"
	ReasonLeft         = "left"
	ReasonEvicted      = "evicted"
	ReasonDisconnected = "disconnected"
)

// Observer receives hub events, typically for metrics.
type Observer interface {
	SubscriberAdded(id room.PartitionID)
	SubscriberRemoved(id room.PartitionID, reason string)
	Broadcasted(id room.PartitionID, delivered, dropped int)
	Swept(rooms, evicted int)
}

type nopObserver struct{}

func (nopObserver) SubscriberAdded(room.PartitionID)           {}
func (nopObserver) SubscriberRemoved(room.PartitionID, string) {}
func (nopObserver) Broadcasted(room.PartitionID, int, int)     {}
func (nopObserver) Swept(int, int)                             {}
