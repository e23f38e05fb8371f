// Package dbpipe discovers the databases a project references and dumps
// them. Discovery parses env files, framework configs, compose files,
// and on-disk SQLite files; dumping shells out to the engine's own tool
// with verification and wall-clock timeouts.
package dbpipe

import (
	"fmt"
	"strings"
)

// Engine names a supported database engine.
type Engine string

const (
	EngineSQLite   Engine = "sqlite"
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
	EngineMongo    Engine = "mongodb"
)

// Kind distinguishes how a descriptor is reached.
type Kind string

const (
	KindSQLite  Kind = "sqlite"
	KindNetwork Kind = "network"
	KindDocker  Kind = "docker"
)

// Descriptor is one database discovery found. Credentials travel in
// memory only; they reach disk exclusively through the dump tool's env
// var channel.
type Descriptor struct {
	Engine Engine
	Kind   Kind

	// SQLite.
	Path string

	// Network.
	Host string
	Port int

	Database string
	User     string
	Password string
	SSLMode  string

	// Docker.
	Container string

	// Provenance, for logs.
	Source    string
	SourceURL string

	IsLocal bool
}

// DefaultPort returns the engine's conventional port.
func DefaultPort(e Engine) int {
	switch e {
	case EnginePostgres:
		return 5432
	case EngineMySQL:
		return 3306
	case EngineMongo:
		return 27017
	}
	return 0
}

// localHost reports whether host normalizes to the local machine.
func localHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return false
}

// dedupKey normalizes the identity discovery deduplicates on.
func (d Descriptor) dedupKey() string {
	if d.Kind == KindSQLite {
		return "sqlite|" + d.Path
	}
	host := strings.ToLower(d.Host)
	if d.Kind == KindDocker {
		host = strings.ToLower(d.Container)
	}
	if localHost(host) {
		host = "localhost"
	}
	port := d.Port
	if port == 0 {
		port = DefaultPort(d.Engine)
	}
	return fmt.Sprintf("%s|%s|%d|%s", d.Engine, host, port, strings.ToLower(d.Database))
}

// String renders the descriptor without credentials.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindSQLite:
		return fmt.Sprintf("sqlite %s", d.Path)
	case KindDocker:
		return fmt.Sprintf("%s %s in container %s", d.Engine, d.Database, d.Container)
	default:
		return fmt.Sprintf("%s %s@%s:%d", d.Engine, d.Database, d.Host, d.Port)
	}
}
