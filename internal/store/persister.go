package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/roomcast/internal/config"
	"github.com/rickgao/roomcast/internal/room"
)

// finalFlushTimeout bounds the flush performed by Stop.
const finalFlushTimeout = 5 * time.Second

// PersisterMetrics counts persister activity.
type PersisterMetrics struct {
	Enqueued  int64
	Dropped   int64 // Refused because the buffer was full or closed
	Inserts   int64
	Conflicts int64 // Records whose id was already stored
	Flushes   int64
	Errors    int64
}

// Persister writes published messages to a Store in the background.
// Persistence is best-effort: failures are logged and counted, never
// reported to the publisher.
type Persister struct {
	cfg    config.PersisterConfig
	store  Store
	logger *slog.Logger

	// Input from the publish path
	input *Buffer[Record]

	// Batching
	batch   []Record
	batchMu sync.Mutex

	// Lifecycle. ctx carries writes and outlives the caller's context; quit
	// and stop end the loops.
	ctx      context.Context
	cancel   context.CancelFunc
	quit     <-chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Metrics
	metrics PersisterMetrics
}

// NewPersister creates a persister writing to s.
func NewPersister(cfg config.PersisterConfig, s Store, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultPersistBatchSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultPersistBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}
	return &Persister{
		cfg:    cfg,
		store:  s,
		logger: logger,
		input:  NewBuffer[Record](min(cfg.BatchSize, cfg.BufferSize), cfg.BufferSize),
		batch:  make([]Record, 0, cfg.BatchSize),
		stop:   make(chan struct{}),
	}
}

// Enqueue hands r to the writer without blocking. It returns false when the
// record was dropped.
func (p *Persister) Enqueue(r Record) bool {
	ok := p.input.Push(r)

	p.batchMu.Lock()
	if ok {
		p.metrics.Enqueued++
	} else {
		p.metrics.Dropped++
	}
	p.batchMu.Unlock()

	if !ok {
		p.logger.Warn("persist buffer full, dropping message", "room", r.Room, "id", r.ID)
	}
	return ok
}

// Start begins consuming records and writing batches.
func (p *Persister) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.quit = ctx.Done()

	p.wg.Add(1)
	go p.consumeLoop()

	p.wg.Add(1)
	go p.flushLoop()

	p.logger.Info("persister started",
		"batch_size", p.cfg.BatchSize,
		"buffer_size", p.cfg.BufferSize,
		"flush_interval", p.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the loops, lets an in-flight batch finish, then writes whatever
// is still queued. Writes still running when ctx expires are cancelled.
func (p *Persister) Stop(ctx context.Context) error {
	p.logger.Info("stopping persister")

	p.input.Close()
	p.stopOnce.Do(func() { close(p.stop) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("persister stopped")
	case <-ctx.Done():
		p.logger.Warn("persister stop timed out")
	}
	if p.cancel != nil {
		p.cancel()
	}

	// Final flush
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	p.collect(p.input.DrainTo(0))
	p.flush(flushCtx)

	return nil
}

// Stats returns current metrics.
func (p *Persister) Stats() PersisterMetrics {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	return p.metrics
}

// Pending returns the number of records not yet written.
func (p *Persister) Pending() int {
	p.batchMu.Lock()
	n := len(p.batch)
	p.batchMu.Unlock()
	return n + p.input.Len()
}

// consumeLoop moves records from the input buffer into the batch.
func (p *Persister) consumeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case <-p.quit:
			return
		case <-p.input.Ready():
			for {
				records := p.input.DrainTo(p.cfg.BatchSize)
				if len(records) == 0 {
					break
				}
				if p.collect(records) {
					p.flush(p.ctx)
				}
			}
		}
	}
}

// flushLoop periodically flushes a partial batch.
func (p *Persister) flushLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-p.quit:
			return
		case <-ticker.C:
			p.flush(p.ctx)
		}
	}
}

// collect appends records to the batch and reports whether it is full.
func (p *Persister) collect(records []Record) bool {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	p.batch = append(p.batch, records...)
	return len(p.batch) >= p.cfg.BatchSize
}

// flush writes the current batch, one Append per room.
func (p *Persister) flush(ctx context.Context) {
	p.batchMu.Lock()
	if len(p.batch) == 0 {
		p.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := p.batch
	p.batch = make([]Record, 0, p.cfg.BatchSize)
	p.batchMu.Unlock()

	start := time.Now()
	for _, g := range groupByRoom(batch) {
		inserted, err := p.store.Append(ctx, g.room, g.records)

		p.batchMu.Lock()
		if err != nil {
			p.metrics.Errors++
		} else {
			p.metrics.Inserts += int64(inserted)
			p.metrics.Conflicts += int64(len(g.records) - inserted)
		}
		p.batchMu.Unlock()

		if err != nil {
			p.logger.Error("persist batch failed", "room", g.room, "count", len(g.records), "error", err)
		}
	}

	p.batchMu.Lock()
	p.metrics.Flushes++
	p.batchMu.Unlock()

	p.logger.Debug("flushed messages",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

type roomBatch struct {
	room    room.PartitionID
	records []Record
}

// groupByRoom splits records by room, keeping first-seen room order and the
// record order within each room.
func groupByRoom(records []Record) []roomBatch {
	var out []roomBatch
	index := make(map[room.PartitionID]int)
	for _, r := range records {
		i, ok := index[r.Room]
		if !ok {
			i = len(out)
			index[r.Room] = i
			out = append(out, roomBatch{room: r.Room})
		}
		out[i].records = append(out[i].records, r)
	}
	return out
}
