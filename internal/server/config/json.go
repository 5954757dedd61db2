package config

import (
	"encoding/json"
	"os"

	"github.com/mikenoired/synapse-sub000/internal/flagx"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files.
type JsonConfig struct {
	Address     string `json:"address"`
	DatabaseDSN string `json:"database_dsn"`
}

// parseJson overlays values from the JSON file named by the -c/-config flag.
// Absent fields keep their current values.
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

	if c.Address != "" {
		config.Address = c.Address
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
}
