// Package store persists chat messages per room partition.
//
// Components:
//   - Store: append and read messages for a partition
//   - PGStore: PostgreSQL implementation over pooled pgx connections
//   - MemoryStore: bounded in-process implementation used when no database is configured
//   - Persister: asynchronous batch writer fed by the publish path
//
// Each partition maps to its own database holding one table:
//
//	CREATE TABLE messages (
//	    id         BIGSERIAL PRIMARY KEY,
//	    message_id TEXT NOT NULL UNIQUE,
//	    nickname   TEXT NOT NULL,
//	    content    TEXT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
package store
