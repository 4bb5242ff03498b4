// Package server exposes the chat service over HTTP.
//
// Routes:
//   - GET  /api/events   subscribe over Server-Sent Events
//   - GET  /api/ws       subscribe over WebSocket
//   - POST /api/send     publish a message
//   - GET  /api/online   presence of a room
//   - POST /api/ping     refresh liveness for a nickname or subscriber id
//   - POST /api/leave    remove a nickname from a room
//   - GET  /api/history  stored messages, paged or since a time
//   - GET  /api/status   service status
//   - GET  /health       component health
//
// The room key is passed as the "room" query parameter or JSON field.
package server
