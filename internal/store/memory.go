package store

import (
	"context"
	"sync"
	"time"

	"github.com/rickgao/roomcast/internal/room"
)

// DefaultMemoryLimit is the per-partition record cap of a MemoryStore.
const DefaultMemoryLimit = 1000

// MemoryStore keeps the most recent records of each partition in memory.
// Older records are discarded once a partition reaches its limit.
type MemoryStore struct {
	limit int

	mu    sync.RWMutex
	rooms map[room.PartitionID]*memoryRoom
}

type memoryRoom struct {
	records []Record
	ids     map[string]struct{}
}

// NewMemoryStore creates a store keeping up to limit records per partition.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &MemoryStore{
		limit: limit,
		rooms: make(map[room.PartitionID]*memoryRoom),
	}
}

// Append stores records, skipping ids already present.
func (s *MemoryStore) Append(_ context.Context, id room.PartitionID, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[id]
	if !ok {
		mr = &memoryRoom{ids: make(map[string]struct{})}
		s.rooms[id] = mr
	}

	inserted := 0
	for _, r := range records {
		if _, dup := mr.ids[r.ID]; dup {
			continue
		}
		r.Room = id
		mr.records = append(mr.records, r)
		mr.ids[r.ID] = struct{}{}
		inserted++
	}

	if over := len(mr.records) - s.limit; over > 0 {
		for _, r := range mr.records[:over] {
			delete(mr.ids, r.ID)
		}
		mr.records = append([]Record(nil), mr.records[over:]...)
	}
	return inserted, nil
}

// Page returns a window counted back from the newest record.
func (s *MemoryStore) Page(_ context.Context, id room.PartitionID, limit, offset int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mr, ok := s.rooms[id]
	if !ok || limit <= 0 || offset < 0 {
		return nil, nil
	}

	end := len(mr.records) - offset
	if end <= 0 {
		return nil, nil
	}
	start := max(end-limit, 0)
	return append([]Record(nil), mr.records[start:end]...), nil
}

// Since returns up to limit records sent after t.
func (s *MemoryStore) Since(_ context.Context, id room.PartitionID, t time.Time, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mr, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}

	var out []Record
	for _, r := range mr.records {
		if !r.SentAt.After(t) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of records currently held.
func (s *MemoryStore) Count(_ context.Context, id room.PartitionID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if mr, ok := s.rooms[id]; ok {
		return int64(len(mr.records)), nil
	}
	return 0, nil
}
