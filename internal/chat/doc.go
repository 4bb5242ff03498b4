// Package chat is the room chat service: it resolves room keys, feeds the
// hub for live fan-out and the store for history.
package chat
