package store

import (
	"context"
	"time"

	"github.com/rickgao/roomcast/internal/room"
)

// Record is one persisted chat message.
type Record struct {
	ID     string // ULID, unique per message
	Room   room.PartitionID
	Sender string
	Body   string
	SentAt time.Time
}

// Store reads and writes messages for a room partition. Page and Since
// return records oldest first.
type Store interface {
	// Append writes records, skipping ids already stored. It returns the
	// number of rows inserted.
	Append(ctx context.Context, id room.PartitionID, records []Record) (int, error)

	// Page returns up to limit records, skipping the offset most recent ones.
	Page(ctx context.Context, id room.PartitionID, limit, offset int) ([]Record, error)

	// Since returns up to limit records sent strictly after t.
	Since(ctx context.Context, id room.PartitionID, t time.Time, limit int) ([]Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context, id room.PartitionID) (int64, error)
}
