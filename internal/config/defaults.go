package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID        = "roomcast"
	DefaultHTTPAddr          = ":8080"
	DefaultAllowOrigin       = "*"
	DefaultKeepaliveInterval = 15 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultSendBufferSize    = 256
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultPartition         = "public"
	DefaultMaxKeyLength      = 64
	DefaultSweepInterval     = 30 * time.Second
	DefaultInactivityTimeout = 90 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultPoolSize          = 10
	DefaultMaxConnAge        = 5 * time.Minute
	DefaultPingTimeout       = 1 * time.Second
	DefaultPersistBufferSize = 1000
	DefaultPersistBatchSize  = 100
	DefaultFlushInterval     = 1 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultMetricsPath       = "/metrics"
)

// DefaultRoomKeys is the allow-list used when the config file declares none.
func DefaultRoomKeys() map[string]string {
	return map[string]string{
		"24336064": "simplechat",
		"061318":   "homechat",
	}
}

// ApplyDefaults fills every unset optional field.
func (c *ServerConfig) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// HTTP defaults
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.AllowOrigin == "" {
		c.HTTP.AllowOrigin = DefaultAllowOrigin
	}
	if c.HTTP.KeepaliveInterval == 0 {
		c.HTTP.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = DefaultWriteTimeout
	}
	if c.HTTP.SendBufferSize == 0 {
		c.HTTP.SendBufferSize = DefaultSendBufferSize
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Rooms defaults
	if c.Rooms.Keys == nil {
		c.Rooms.Keys = DefaultRoomKeys()
	}
	if c.Rooms.DefaultPartition == "" {
		c.Rooms.DefaultPartition = DefaultPartition
	}
	if c.Rooms.MaxKeyLength == 0 {
		c.Rooms.MaxKeyLength = DefaultMaxKeyLength
	}

	// Presence defaults
	if c.Presence.SweepInterval == 0 {
		c.Presence.SweepInterval = DefaultSweepInterval
	}
	if c.Presence.InactivityTimeout == 0 {
		c.Presence.InactivityTimeout = DefaultInactivityTimeout
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.PoolSize == 0 {
		c.Database.PoolSize = DefaultPoolSize
	}
	if c.Database.MaxConnAge == 0 {
		c.Database.MaxConnAge = DefaultMaxConnAge
	}
	if c.Database.PingTimeout == 0 {
		c.Database.PingTimeout = DefaultPingTimeout
	}

	// Persister defaults
	if c.Persister.BufferSize == 0 {
		c.Persister.BufferSize = DefaultPersistBufferSize
	}
	if c.Persister.BatchSize == 0 {
		c.Persister.BatchSize = DefaultPersistBatchSize
	}
	if c.Persister.FlushInterval == 0 {
		c.Persister.FlushInterval = DefaultFlushInterval
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
