package stream

import (
	"sync"

	"github.com/rickgao/roomcast/internal/hub"
)

// queue is the bounded hand-off between Send and the writer loop.
type queue struct {
	events chan hub.Event
	done   chan struct{}
	once   sync.Once
}

func newQueue(size int) *queue {
	return &queue{
		events: make(chan hub.Event, size),
		done:   make(chan struct{}),
	}
}

// push enqueues ev without blocking.
func (q *queue) push(ev hub.Event) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.events <- ev:
		return nil
	case <-q.done:
		return ErrClosed
	default:
		return ErrSlowConsumer
	}
}

// close makes every later push fail. Queued events are abandoned.
func (q *queue) close() {
	q.once.Do(func() { close(q.done) })
}
