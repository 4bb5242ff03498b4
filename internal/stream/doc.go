// Package stream adapts long-lived HTTP connections into hub sinks.
//
// Two transports are provided:
//   - SSESink: text/event-stream responses with comment keepalives
//   - WSSink: gorilla/websocket connections with ping/pong keepalives
//
// A sink never writes to the network from Send. Events are queued on a
// bounded channel and written by the connection's own Run loop; a full queue
// is reported to the caller as ErrSlowConsumer.
package stream
