package config

import (
	"encoding/json"
	"os"

	"github.com/mikenoired/synapse-sub000/internal/flagx"
	"github.com/mikenoired/synapse-sub000/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. Interval fields use timex.Duration so both "5s" strings and integer
// nanoseconds parse.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	CoordinatorURL     string         `json:"coordinator_url"`
	UserID             string         `json:"user_id"`
	DatabasePath       string         `json:"database_path"`
	BackupPath         string         `json:"backup_path"`
	SyncInterval       timex.Duration `json:"sync_interval"`
	BackupInterval     timex.Duration `json:"backup_interval"`
}

// parseJson overlays values from the JSON file named by the -c/-config flag.
// Absent fields keep their current values. A present but unreadable or
// invalid file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.ServerEndpointAddr != "" {
		config.ServerEndpointAddr = c.ServerEndpointAddr
	}
	if c.CoordinatorURL != "" {
		config.CoordinatorURL = c.CoordinatorURL
	}
	if c.UserID != "" {
		config.UserID = c.UserID
	}
	if c.DatabasePath != "" {
		config.DatabasePath = c.DatabasePath
	}
	if c.BackupPath != "" {
		config.BackupPath = c.BackupPath
	}
	if c.SyncInterval.Duration != 0 {
		config.SyncInterval = c.SyncInterval.Duration
	}
	if c.BackupInterval.Duration != 0 {
		config.BackupInterval = c.BackupInterval.Duration
	}
}
