package config

import "time"

// ServerConfig is the root configuration for a roomcast instance.
type ServerConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	HTTP      HTTPConfig      `yaml:"http"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	Presence  PresenceConfig  `yaml:"presence"`
	Database  DatabaseConfig  `yaml:"database"`
	Persister PersisterConfig `yaml:"persister"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this server.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// HTTPConfig holds listener and push-stream settings.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	AllowOrigin       string        `yaml:"allow_origin"`       // Access-Control-Allow-Origin value, empty disables CORS
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"` // Comment frame / ping period per subscriber
	WriteTimeout      time.Duration `yaml:"write_timeout"`      // Deadline for a single push to a subscriber
	SendBufferSize    int           `yaml:"send_buffer_size"`   // Per-subscriber outbound queue length
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// RoomsConfig holds the room key allow-list.
type RoomsConfig struct {
	// Keys maps an opaque room key to its backing partition id.
	Keys             map[string]string `yaml:"keys"`
	DefaultPartition string            `yaml:"default_partition"`
	MaxKeyLength     int               `yaml:"max_key_length"`
}

// PresenceConfig holds health monitor timings.
type PresenceConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
}

// DatabaseConfig holds the message store connection settings. Each room
// partition is its own database on this server.
type DatabaseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	SSLMode     string        `yaml:"ssl_mode"`
	PoolSize    int           `yaml:"pool_size"`
	MaxConnAge  time.Duration `yaml:"max_conn_age"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

// PersisterConfig holds async message writer settings.
type PersisterConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LogConfig holds slog settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
