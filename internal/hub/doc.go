// Package hub implements room membership and live fan-out.
//
// Components:
//   - Registry: the per-room live subscriber sets
//   - Broadcaster: delivers events to a room snapshot, dropping failed subscribers
//   - PresenceTracker: distinct online nicknames per room
//   - HealthMonitor: periodic sweep evicting inactive subscribers
//
// All I/O-facing iteration runs over snapshots; no lock is held while a sink is written.
package hub
