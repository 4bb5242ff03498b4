package stream

import (
	"errors"
	"time"
)

// Errors
var (
	ErrSlowConsumer = errors.New("subscriber send buffer full")
	ErrClosed       = errors.New("stream closed")
	ErrNoFlush      = errors.New("response writer does not support flushing")
)

// Config controls per-connection writer behaviour.
type Config struct {
	KeepaliveInterval time.Duration // Comment frame (SSE) or ping (WebSocket) period
	WriteTimeout      time.Duration // Deadline for a single network write
	BufferSize        int           // Queued events before Send fails
}

// DefaultConfig returns default settings.
func DefaultConfig() Config {
	return Config{
		KeepaliveInterval: 15 * time.Second,
		WriteTimeout:      10 * time.Second,
		BufferSize:        256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	return c
}
