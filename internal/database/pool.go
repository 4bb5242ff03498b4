package database

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("connection pool closed")

// Handle is a raw backing-store connection. *pgx.Conn satisfies it.
type Handle interface {
	Ping(ctx context.Context) error
	IsClosed() bool
	Close(ctx context.Context) error
}

// Dialer opens a new connection to address.
type Dialer[H Handle] func(ctx context.Context, address string) (H, error)

// PoolConfig configures every per-address pool.
type PoolConfig struct {
	MaxSize     int           // Max idle connections kept per address
	MaxAge      time.Duration // Connections older than this are discarded on acquire
	PingTimeout time.Duration // Liveness probe deadline
}

// DefaultPoolConfig returns a pool of ten handles recycled every five minutes.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:     10,
		MaxAge:      5 * time.Minute,
		PingTimeout: time.Second,
	}
}

// Conn is a pooled connection. Callers use Handle and give the Conn back
// with Release.
type Conn[H Handle] struct {
	Handle    H
	CreatedAt time.Time
	address   string
}

// Address returns the backing address the connection was opened against.
func (c *Conn[H]) Address() string {
	return c.address
}

// PoolStats reports counters for a single address.
type PoolStats struct {
	Address  string
	Idle     int
	Hits     int64 // Acquires served from the pool
	Misses   int64 // Acquires that dialed
	Discards int64 // Pooled connections dropped as stale
	Returns  int64 // Releases kept in the pool
	Overflow int64 // Releases closed because the pool was full or the conn closed
}

// Pools holds one bounded pool per backing address. Pools are created lazily
// and live until Close.
type Pools[H Handle] struct {
	cfg    PoolConfig
	dial   Dialer[H]
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex // guards pools and closed only
	pools  map[string]*pool[H]
	closed bool
}

// pool is the state for one address. Its mutex covers bookkeeping only;
// dialing, pinging and closing happen outside it.
type pool[H Handle] struct {
	mu    sync.Mutex
	idle  []*Conn[H] // LIFO
	stats PoolStats
}

// NewPools creates an empty pool set.
func NewPools[H Handle](cfg PoolConfig, dial Dialer[H], logger *slog.Logger) *Pools[H] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSize < 0 {
		cfg.MaxSize = 0
	}
	return &Pools[H]{
		cfg:    cfg,
		dial:   dial,
		logger: logger,
		now:    time.Now,
		pools:  make(map[string]*pool[H]),
	}
}

// Acquire returns a usable connection for address. Expired or dead pooled
// connections are closed and skipped; when none are left a new one is dialed.
func (p *Pools[H]) Acquire(ctx context.Context, address string) (*Conn[H], error) {
	pl, err := p.poolFor(address)
	if err != nil {
		return nil, err
	}

	for {
		c := pl.pop()
		if c == nil {
			break
		}
		if p.usable(ctx, c) {
			pl.mu.Lock()
			pl.stats.Hits++
			pl.mu.Unlock()
			return c, nil
		}
		pl.mu.Lock()
		pl.stats.Discards++
		pl.mu.Unlock()
		p.closeQuietly(c)
	}

	h, err := p.dial(ctx, address)
	if err != nil {
		return nil, err
	}

	pl.mu.Lock()
	pl.stats.Misses++
	pl.mu.Unlock()

	return &Conn[H]{Handle: h, CreatedAt: p.now(), address: address}, nil
}

// Release hands c back. It is kept if the pool for its address has spare
// capacity and the connection is still open; otherwise it is closed.
func (p *Pools[H]) Release(c *Conn[H]) {
	if c == nil {
		return
	}

	p.mu.Lock()
	pl, ok := p.pools[c.address]
	closed := p.closed
	p.mu.Unlock()

	if !ok || closed || c.Handle.IsClosed() {
		if ok {
			pl.mu.Lock()
			pl.stats.Overflow++
			pl.mu.Unlock()
		}
		p.closeQuietly(c)
		return
	}

	pl.mu.Lock()
	if len(pl.idle) < p.cfg.MaxSize {
		pl.idle = append(pl.idle, c)
		pl.stats.Returns++
		pl.mu.Unlock()
		return
	}
	pl.stats.Overflow++
	pl.mu.Unlock()

	p.closeQuietly(c)
}

// Stats returns per-address counters sorted by address.
func (p *Pools[H]) Stats() []PoolStats {
	p.mu.Lock()
	pools := make([]*pool[H], 0, len(p.pools))
	for _, pl := range p.pools {
		pools = append(pools, pl)
	}
	p.mu.Unlock()

	out := make([]PoolStats, 0, len(pools))
	for _, pl := range pools {
		pl.mu.Lock()
		s := pl.stats
		s.Idle = len(pl.idle)
		pl.mu.Unlock()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Close closes every idle connection. Connections still checked out are
// closed when released.
func (p *Pools[H]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pools := p.pools
	p.mu.Unlock()

	var n int
	for _, pl := range pools {
		pl.mu.Lock()
		idle := pl.idle
		pl.idle = nil
		pl.mu.Unlock()
		for _, c := range idle {
			p.closeQuietly(c)
			n++
		}
	}
	p.logger.Info("connection pools closed", "pools", len(pools), "closed_conns", n)
}

func (p *Pools[H]) poolFor(address string) (*pool[H], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	pl, ok := p.pools[address]
	if !ok {
		pl = &pool[H]{
			idle:  make([]*Conn[H], 0, p.cfg.MaxSize),
			stats: PoolStats{Address: address},
		}
		p.pools[address] = pl
		p.logger.Debug("created connection pool", "max_size", p.cfg.MaxSize)
	}
	return pl, nil
}

// usable reports whether a pooled connection may be handed out.
func (p *Pools[H]) usable(ctx context.Context, c *Conn[H]) bool {
	if p.cfg.MaxAge > 0 && p.now().Sub(c.CreatedAt) > p.cfg.MaxAge {
		return false
	}
	if c.Handle.IsClosed() {
		return false
	}

	pingCtx := ctx
	if p.cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, p.cfg.PingTimeout)
		defer cancel()
	}
	return c.Handle.Ping(pingCtx) == nil
}

func (p *Pools[H]) closeQuietly(c *Conn[H]) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Handle.Close(ctx); err != nil {
		p.logger.Debug("close pooled connection", "error", err)
	}
}

func (pl *pool[H]) pop() *Conn[H] {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	n := len(pl.idle)
	if n == 0 {
		return nil
	}
	c := pl.idle[n-1]
	pl.idle[n-1] = nil
	pl.idle = pl.idle[:n-1]
	return c
}
