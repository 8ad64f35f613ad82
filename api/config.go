// Package api provides an HTTP API server for feeding the collector and
// managing personas and their backups.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8090")
	ListenAddr string
}
