package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeConn is an in-memory Handle.
type fakeConn struct {
	id      int
	mu      sync.Mutex
	closed  bool
	pingErr error
	pings   int
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	next  int
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) dial(ctx context.Context, address string) (*fakeConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.next++
	c := &fakeConn{id: d.next}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

func newTestPools(t *testing.T, cfg PoolConfig) (*Pools[*fakeConn], *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	return NewPools[*fakeConn](cfg, d.dial, nil), d
}

func TestPools_ReleaseThenAcquireReuses(t *testing.T) {
	p, d := newTestPools(t, PoolConfig{MaxSize: 2, MaxAge: time.Minute})
	ctx := context.Background()

	c1, err := p.Acquire(ctx, "db1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p.Release(c1)

	c2, err := p.Acquire(ctx, "db1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if c2.Handle != c1.Handle {
		t.Errorf("expected pooled handle %d to be reused, got %d", c1.Handle.id, c2.Handle.id)
	}
	if d.dials() != 1 {
		t.Errorf("dials = %d, want 1", d.dials())
	}

	stats := p.Stats()
	if len(stats) != 1 || stats[0].Hits != 1 || stats[0].Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestPools_EmptyPoolDials(t *testing.T) {
	p, d := newTestPools(t, PoolConfig{MaxSize: 1, MaxAge: time.Minute})
	ctx := context.Background()

	// Creation is not capped by MaxSize.
	var conns []*Conn[*fakeConn]
	for i := 0; i < 5; i++ {
		c, err := p.Acquire(ctx, "db1")
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		conns = append(conns, c)
	}
	if d.dials() != 5 {
		t.Errorf("dials = %d, want 5", d.dials())
	}

	// Only MaxSize survive the return path.
	for _, c := range conns {
		p.Release(c)
	}
	stats := p.Stats()[0]
	if stats.Idle != 1 {
		t.Errorf("Idle = %d, want 1", stats.Idle)
	}
	if stats.Overflow != 4 {
		t.Errorf("Overflow = %d, want 4", stats.Overflow)
	}

	closed := 0
	for _, c := range d.conns {
		if c.IsClosed() {
			closed++
		}
	}
	if closed != 4 {
		t.Errorf("closed conns = %d, want 4", closed)
	}
}

func TestPools_ExpiredDiscarded(t *testing.T) {
	p, d := newTestPools(t, PoolConfig{MaxSize: 2, MaxAge: time.Minute})
	ctx := context.Background()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	c1, _ := p.Acquire(ctx, "db1")
	p.Release(c1)

	now = now.Add(2 * time.Minute)

	c2, err := p.Acquire(ctx, "db1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if c2.Handle == c1.Handle {
		t.Fatal("expired handle was reused")
	}
	if !c1.Handle.IsClosed() {
		t.Error("expired handle was not closed")
	}
	if c1.Handle.pings != 0 {
		t.Error("expired handle should not be pinged")
	}
	if d.dials() != 2 {
		t.Errorf("dials = %d, want 2", d.dials())
	}
	if got := p.Stats()[0].Discards; got != 1 {
		t.Errorf("Discards = %d, want 1", got)
	}
}

func TestPools_FailedPingSkipsToNext(t *testing.T) {
	p, d := newTestPools(t, PoolConfig{MaxSize: 3, MaxAge: time.Minute})
	ctx := context.Background()

	good, _ := p.Acquire(ctx, "db1")
	bad, _ := p.Acquire(ctx, "db1")
	bad.Handle.pingErr = errors.New("broken pipe")

	p.Release(good)
	p.Release(bad) // top of the stack

	got, err := p.Acquire(ctx, "db1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if got.Handle != good.Handle {
		t.Errorf("got handle %d, want the healthy handle %d", got.Handle.id, good.Handle.id)
	}
	if !bad.Handle.IsClosed() {
		t.Error("unhealthy handle was not closed")
	}
	if d.dials() != 2 {
		t.Errorf("dials = %d, want 2", d.dials())
	}
}

func TestPools_ClosedHandleNotReturned(t *testing.T) {
	p, _ := newTestPools(t, PoolConfig{MaxSize: 2, MaxAge: time.Minute})
	ctx := context.Background()

	c, _ := p.Acquire(ctx, "db1")
	_ = c.Handle.Close(ctx)
	p.Release(c)

	if got := p.Stats()[0].Idle; got != 0 {
		t.Errorf("Idle = %d, want 0", got)
	}
}

func TestPools_PerAddressIsolation(t *testing.T) {
	p, d := newTestPools(t, PoolConfig{MaxSize: 2, MaxAge: time.Minute})
	ctx := context.Background()

	a, _ := p.Acquire(ctx, "db-a")
	p.Release(a)

	b, err := p.Acquire(ctx, "db-b")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if b.Handle == a.Handle {
		t.Error("connection leaked across addresses")
	}
	if b.Address() != "db-b" {
		t.Errorf("Address() = %q, want db-b", b.Address())
	}
	if d.dials() != 2 {
		t.Errorf("dials = %d, want 2", d.dials())
	}
	if n := len(p.Stats()); n != 2 {
		t.Errorf("len(Stats()) = %d, want 2", n)
	}
}

func TestPools_DialError(t *testing.T) {
	p, d := newTestPools(t, PoolConfig{MaxSize: 2, MaxAge: time.Minute})
	d.err = errors.New("connection refused")

	_, err := p.Acquire(context.Background(), "db1")
	if err == nil || err.Error() != "connection refused" {
		t.Errorf("Acquire error = %v, want connection refused", err)
	}
}

func TestPools_Close(t *testing.T) {
	p, _ := newTestPools(t, PoolConfig{MaxSize: 2, MaxAge: time.Minute})
	ctx := context.Background()

	idle, _ := p.Acquire(ctx, "db1")
	out, _ := p.Acquire(ctx, "db1")
	p.Release(idle)

	p.Close()
	p.Close() // idempotent

	if !idle.Handle.IsClosed() {
		t.Error("idle handle not closed on Close")
	}
	if _, err := p.Acquire(ctx, "db1"); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire after Close error = %v, want ErrPoolClosed", err)
	}

	p.Release(out)
	if !out.Handle.IsClosed() {
		t.Error("handle released after Close should be closed")
	}
}

func TestPools_ConcurrentUse(t *testing.T) {
	const maxSize = 4
	p, _ := newTestPools(t, PoolConfig{MaxSize: maxSize, MaxAge: time.Minute})
	ctx := context.Background()

	var wg sync.WaitGroup
	var failures atomic.Int64
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			addr := fmt.Sprintf("db%d", g%2)
			for i := 0; i < 100; i++ {
				c, err := p.Acquire(ctx, addr)
				if err != nil {
					failures.Add(1)
					continue
				}
				p.Release(c)
			}
		}(g)
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d acquires failed", failures.Load())
	}
	for _, s := range p.Stats() {
		if s.Idle > maxSize {
			t.Errorf("%s: Idle = %d exceeds max %d", s.Address, s.Idle, maxSize)
		}
	}
}
