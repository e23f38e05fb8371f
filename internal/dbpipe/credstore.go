package dbpipe

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// The credential store is an opt-in TOML file keyed [engine.database],
// consulted only when discovery found no password. It is isolated from
// discovery: descriptors never write back to it.
//
//	[postgres.app]
//	password = "..."

// DefaultCredStorePath is ~/.config/checkpoint/credentials.toml.
func DefaultCredStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "checkpoint", "credentials.toml")
}

type credEntry struct {
	Password string `toml:"password"`
	User     string `toml:"user"`
}

// lookupCredential fetches a password for (engine, database). Fetched
// on demand per dump; never cached in state files.
func lookupCredential(path string, engine Engine, database string) (string, bool) {
	if path == "" {
		path = DefaultCredStorePath()
	}
	var store map[string]map[string]credEntry
	if _, err := toml.DecodeFile(path, &store); err != nil {
		return "", false
	}
	byDB, ok := store[string(engine)]
	if !ok {
		return "", false
	}
	entry, ok := byDB[database]
	if !ok || entry.Password == "" {
		return "", false
	}
	return entry.Password, true
}
