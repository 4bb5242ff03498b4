package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/roomcast/internal/config"
	"github.com/rickgao/roomcast/internal/database"
	"github.com/rickgao/roomcast/internal/room"
)

// PGStore keeps each partition's messages in its own PostgreSQL database.
// Every call borrows one connection from the pool for that partition.
type PGStore struct {
	pools  *database.PGPools
	cfg    config.DatabaseConfig
	logger *slog.Logger
}

// NewPGStore creates a store over pools.
func NewPGStore(pools *database.PGPools, cfg config.DatabaseConfig, logger *slog.Logger) *PGStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{
		pools:  pools,
		cfg:    cfg,
		logger: logger,
	}
}

// withConn runs fn on a pooled connection for the partition.
func (s *PGStore) withConn(ctx context.Context, id room.PartitionID, fn func(conn *pgx.Conn) error) error {
	c, err := s.pools.Acquire(ctx, database.BuildConnString(s.cfg, string(id)))
	if err != nil {
		return fmt.Errorf("acquire connection for %s: %w", id, err)
	}
	defer s.pools.Release(c)
	return fn(c.Handle)
}

// Append inserts records with pgx.Batch and ON CONFLICT DO NOTHING.
func (s *PGStore) Append(ctx context.Context, id room.PartitionID, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.withConn(ctx, id, func(conn *pgx.Conn) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(`
				INSERT INTO messages (message_id, nickname, content, created_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (message_id) DO NOTHING
			`, r.ID, r.Sender, r.Body, r.SentAt)
		}

		results := conn.SendBatch(ctx, batch)
		defer results.Close()

		for range records {
			ct, err := results.Exec()
			if err != nil {
				return err
			}
			inserted += int(ct.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return inserted, fmt.Errorf("append messages: %w", err)
	}
	return inserted, nil
}

// Page returns a page counted back from the newest message.
func (s *PGStore) Page(ctx context.Context, id room.PartitionID, limit, offset int) ([]Record, error) {
	var out []Record
	err := s.withConn(ctx, id, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT message_id, nickname, content, created_at
			FROM messages
			ORDER BY id DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
		if err != nil {
			return err
		}
		out, err = scanRecords(rows, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("page messages: %w", err)
	}

	// Queried newest first.
	slices.Reverse(out)
	return out, nil
}

// Since returns messages created after t in insertion order.
func (s *PGStore) Since(ctx context.Context, id room.PartitionID, t time.Time, limit int) ([]Record, error) {
	var out []Record
	err := s.withConn(ctx, id, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT message_id, nickname, content, created_at
			FROM messages
			WHERE created_at > $1
			ORDER BY id ASC
			LIMIT $2
		`, t, limit)
		if err != nil {
			return err
		}
		out, err = scanRecords(rows, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("messages since %s: %w", t.Format(time.RFC3339), err)
	}
	return out, nil
}

// Count returns the partition's message count.
func (s *PGStore) Count(ctx context.Context, id room.PartitionID) (int64, error) {
	var n int64
	err := s.withConn(ctx, id, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func scanRecords(rows pgx.Rows, id room.PartitionID) ([]Record, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		r := Record{Room: id}
		err := row.Scan(&r.ID, &r.Sender, &r.Body, &r.SentAt)
		return r, err
	})
}
