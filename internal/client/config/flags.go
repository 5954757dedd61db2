package config

import (
	"flag"
	"os"
	"time"

	"github.com/mikenoired/synapse-sub000/internal/flagx"
)

// parseFlags populates client Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   sync server base URL
//	-w string   coordination websocket URL
//	-u string   user id
//	-f string   local database file path
//	-k string   backup directory path
//	-i int      sync interval, seconds
//	-b int      backup interval, seconds
//
// The args are filtered with flagx.FilterArgs first so the set does not
// collide with the -c/-config flags handled by parseJson.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-u", "-f", "-k", "-i", "-b"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ServerEndpointAddr, "a", config.ServerEndpointAddr, "sync server base URL")
	fs.StringVar(&config.CoordinatorURL, "w", config.CoordinatorURL, "coordination websocket URL")
	fs.StringVar(&config.UserID, "u", config.UserID, "user id")
	fs.StringVar(&config.DatabasePath, "f", config.DatabasePath, "local database file path")
	fs.StringVar(&config.BackupPath, "k", config.BackupPath, "backup directory path")

	syncInterval := fs.Int("i", int(config.SyncInterval.Seconds()), "sync interval (in seconds)")
	backupInterval := fs.Int("b", int(config.BackupInterval.Seconds()), "backup interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SyncInterval = time.Duration(*syncInterval) * time.Second
	config.BackupInterval = time.Duration(*backupInterval) * time.Second
}
