package core

import (
	"path"
	"time"

	"github.com/duchynet/duchy/fs"
)

// DefaultConfigFolderName is the name of the default folder the daemon keeps
// its state under.
const DefaultConfigFolderName = ".duchy"

// DefaultDBFolder is the folder, inside the config folder, holding the token
// database.
const DefaultDBFolder = "db"

// DefaultListenAddress is where the ComputationControl API binds when no
// address is configured.
const DefaultListenAddress = "127.0.0.1:8080"

// DefaultPollInterval between mill scans of the token store.
const DefaultPollInterval = 5 * time.Second

// DefaultConfigFolder returns the default config folder of the daemon.
func DefaultConfigFolder() string {
	return path.Join(fs.HomeFolder(), DefaultConfigFolderName)
}
