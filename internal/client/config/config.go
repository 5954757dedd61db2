// Package config handles configuration for the client component, including
// defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the sync client.
//
// Fields:
//   - ServerEndpointAddr: base URL of the sync server HTTP API.
//   - CoordinatorURL: websocket URL of the coordination endpoint.
//   - UserID: the user all local data belongs to.
//   - DatabasePath: path of the local SQLite file.
//   - BackupPath: directory of the badger snapshot store. Empty keeps
//     snapshots in memory.
//   - SyncInterval: period of the auto-sync timer.
//   - BackupInterval: period of the snapshot schedule.
type Config struct {
	ServerEndpointAddr string
	CoordinatorURL     string
	UserID             string
	DatabasePath       string
	BackupPath         string
	SyncInterval       time.Duration
	BackupInterval     time.Duration
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://localhost:8080"
	c.CoordinatorURL = "ws://localhost:8080/ws"
	c.UserID = "local"
	c.DatabasePath = "synapse.db"
	c.BackupPath = ""
	c.SyncInterval = 5 * time.Second
	c.BackupInterval = 1 * time.Minute
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
