// Package database provides per-partition connection pooling for the message store.
//
// Every room partition is backed by its own PostgreSQL database. Pools keeps one
// small, bounded pool of raw connections per backing address:
//   - Acquire never waits for capacity; a miss dials a new connection
//   - Release returns a connection only while the pool has room for it
//   - Connections older than the max age, or failing a ping, are discarded on acquire
package database
