package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/roomcast/internal/room"
)

// Errors
var (
	ErrTerminated     = errors.New("subscriber terminated")
	ErrBoundElsewhere = errors.New("subscriber belongs to another room")
)

// Event is one push to subscribers. Sinks decide the wire framing.
type Event struct {
	ID   string // Optional event id (message ULID)
	Type string // "message", "online", "info"
	Data []byte // JSON body
}

// Sink is the outbound side of a push connection. Send must not block on
// network I/O; an error means the subscriber can no longer be reached.
type Sink interface {
	Send(ev Event) error
}

// Subscriber is a single live push connection in one room.
type Subscriber struct {
	id          uuid.UUID
	nickname    string
	remoteAddr  string
	sink        Sink
	connectedAt time.Time

	lastActive atomic.Int64 // unix nanos, never decreases
	sent       atomic.Uint64

	mu     sync.Mutex
	room   room.PartitionID
	bound  bool
	done   chan struct{}
	closed bool
}

// NewSubscriber creates an unregistered subscriber. The nickname may be empty.
func NewSubscriber(nickname, remoteAddr string, sink Sink) *Subscriber {
	now := time.Now()
	s := &Subscriber{
		id:          uuid.New(),
		nickname:    nickname,
		remoteAddr:  remoteAddr,
		sink:        sink,
		connectedAt: now,
		done:        make(chan struct{}),
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() uuid.UUID { return s.id }

// Nickname returns the display name, possibly empty.
func (s *Subscriber) Nickname() string { return s.nickname }

// RemoteAddr returns the client address the subscriber connected from.
func (s *Subscriber) RemoteAddr() string { return s.remoteAddr }

// ConnectedAt returns when the subscriber was created.
func (s *Subscriber) ConnectedAt() time.Time { return s.connectedAt }

// LastActive returns the most recent liveness signal.
func (s *Subscriber) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Touch records activity at t. Older timestamps are ignored.
func (s *Subscriber) Touch(t time.Time) {
	n := t.UnixNano()
	for {
		cur := s.lastActive.Load()
		if n <= cur {
			return
		}
		if s.lastActive.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Sent returns how many events were handed to the sink.
func (s *Subscriber) Sent() uint64 { return s.sent.Load() }

// Room returns the room the subscriber was registered in, if any.
func (s *Subscriber) Room() (room.PartitionID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.bound
}

// Done is closed once the subscriber is terminated.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Terminated reports whether the subscriber was removed for good.
func (s *Subscriber) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// send pushes ev to the sink.
func (s *Subscriber) send(ev Event) error {
	if s.Terminated() {
		return ErrTerminated
	}
	if err := s.sink.Send(ev); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

// bind ties the subscriber to id. Binding is permanent.
func (s *Subscriber) bind(id room.PartitionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrTerminated
	}
	if s.bound && s.room != id {
		return ErrBoundElsewhere
	}
	s.room = id
	s.bound = true
	return nil
}

// terminate closes Done. It is idempotent.
func (s *Subscriber) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
