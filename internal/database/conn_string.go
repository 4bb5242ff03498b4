package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/roomcast/internal/config"
)

// BuildConnString builds a PostgreSQL connection string for one partition.
// The partition id is used as the database name.
func BuildConnString(cfg config.DatabaseConfig, partition string) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		escapedPassword,
		cfg.Host,
		cfg.Port,
		url.PathEscape(partition),
		sslMode,
	)
}
