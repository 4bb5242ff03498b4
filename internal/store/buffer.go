package store

import "sync"

// Buffer is a thread-safe FIFO ring that doubles its capacity when it
// reaches 70% full, up to a hard limit. Pushes beyond the limit are refused.
type Buffer[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	tail   int
	count  int
	limit  int
	closed bool
	ready  chan struct{}

	// Stats
	pushed  int64
	drained int64
	refused int64
	resizes int
}

// BufferStats is a point-in-time view of a Buffer.
type BufferStats struct {
	Len      int
	Capacity int
	Pushed   int64
	Drained  int64
	Refused  int64
	Resizes  int
}

// NewBuffer creates a buffer starting at initial capacity and never holding
// more than limit items. A limit below initial is raised to initial.
func NewBuffer[T any](initial, limit int) *Buffer[T] {
	if initial < 1 {
		initial = 1
	}
	if limit < initial {
		limit = initial
	}
	return &Buffer[T]{
		buf:   make([]T, initial),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends item. It returns false if the buffer is closed or full.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.count >= b.limit {
		b.refused++
		return false
	}

	threshold := max(len(b.buf)*70/100, 1)
	if b.count+1 >= threshold && len(b.buf) < b.limit {
		b.grow()
	}
	if b.count == len(b.buf) {
		b.refused++
		return false
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % len(b.buf)
	b.count++
	b.pushed++

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready receives a value after a Push into a buffer that a consumer may
// have seen empty. Consumers should drain until empty after each signal.
func (b *Buffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// DrainTo removes up to max items in FIFO order. max <= 0 drains everything.
func (b *Buffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = b.buf[b.head]
		b.buf[b.head] = zero
		b.head = (b.head + 1) % len(b.buf)
	}
	b.count -= n
	b.drained += int64(n)
	return out
}

// Close refuses later pushes. Items already queued can still be drained.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Len returns the number of queued items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer counters.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Len:      b.count,
		Capacity: len(b.buf),
		Pushed:   b.pushed,
		Drained:  b.drained,
		Refused:  b.refused,
		Resizes:  b.resizes,
	}
}

// grow doubles capacity, capped at limit. Must be called with lock held.
func (b *Buffer[T]) grow() {
	next := min(len(b.buf)*2, b.limit)
	buf := make([]T, next)

	if b.count > 0 {
		if b.head < b.tail {
			copy(buf, b.buf[b.head:b.tail])
		} else {
			n := copy(buf, b.buf[b.head:])
			copy(buf[n:], b.buf[:b.tail])
		}
	}

	b.buf = buf
	b.head = 0
	b.tail = b.count
	b.resizes++
}
