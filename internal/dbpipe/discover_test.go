package dbpipe

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func byEngine(descs []Descriptor, e Engine) []Descriptor {
	var out []Descriptor
	for _, d := range descs {
		if d.Engine == e {
			out = append(out, d)
		}
	}
	return out
}

func TestDiscoverMixedSources(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".env"),
		"DATABASE_URL=postgres://u:p@db.example.com:5432/app?sslmode=require\n"+
			"UNRESOLVED=${SECRET}\nEMPTYISH=null\n")
	writeFile(t, filepath.Join(root, "wp-config.php"), `<?php
define('DB_HOST', 'localhost');
define('DB_NAME', 'wp');
define('DB_USER', 'r');
define('DB_PASSWORD', 'secret');
`)
	writeFile(t, filepath.Join(root, "docker-compose.yml"), `
services:
  db:
    image: postgres:15
    container_name: app-db
    environment:
      POSTGRES_DB: dev
      POSTGRES_PASSWORD: pw
`)

	descs := Discover(root)
	if len(descs) != 3 {
		t.Fatalf("got %d descriptors, want 3: %+v", len(descs), descs)
	}

	pg := byEngine(descs, EnginePostgres)
	if len(pg) != 2 {
		t.Fatalf("postgres descriptors: %+v", pg)
	}
	var remote, docker *Descriptor
	for i := range pg {
		switch pg[i].Kind {
		case KindNetwork:
			remote = &pg[i]
		case KindDocker:
			docker = &pg[i]
		}
	}
	if remote == nil || remote.Host != "db.example.com" || remote.Port != 5432 ||
		remote.Database != "app" || remote.IsLocal || remote.SSLMode != "require" {
		t.Errorf("remote postgres = %+v", remote)
	}
	if remote != nil && (remote.User != "u" || remote.Password != "p") {
		t.Errorf("remote credentials = %q/%q", remote.User, remote.Password)
	}
	if docker == nil || docker.Container != "app-db" || docker.Database != "dev" {
		t.Errorf("docker postgres = %+v", docker)
	}

	my := byEngine(descs, EngineMySQL)
	if len(my) != 1 {
		t.Fatalf("mysql descriptors: %+v", my)
	}
	if my[0].Host != "localhost" || my[0].Port != 3306 || my[0].Database != "wp" ||
		!my[0].IsLocal || my[0].User != "r" {
		t.Errorf("inferred wordpress mysql = %+v", my[0])
	}
}

func TestDiscoverSkipsPlaceholdersAndInterpolation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".env"), `
DB_CONNECTION=pgsql
DB_HOST=localhost
DB_DATABASE=${APP_DB}
MYSQL_DATABASE=null
MONGO_DB=$OTHER_VAR
`)
	descs := Discover(root)
	if len(descs) != 0 {
		t.Errorf("placeholder values produced descriptors: %+v", descs)
	}
}

func TestDiscoverLaravelBlock(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".env"), `
DB_CONNECTION=pgsql
DB_HOST=127.0.0.1
DB_PORT=5433
DB_DATABASE=laravel
DB_USERNAME=forge
DB_PASSWORD="for ge!" # inline comment
`)
	descs := Discover(root)
	if len(descs) != 1 {
		t.Fatalf("got %d descriptors: %+v", len(descs), descs)
	}
	d := descs[0]
	if d.Engine != EnginePostgres || d.Port != 5433 || d.Database != "laravel" ||
		!d.IsLocal || d.User != "forge" || d.Password != "for ge!" {
		t.Errorf("laravel descriptor = %+v", d)
	}
}

func TestDiscoverRailsDatabaseYML(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config", "database.yml"), `
development:
  adapter: postgresql
  host: localhost
  database: blog_dev
  username: rails
production:
  adapter: postgresql
  host: db.prod.internal
  database: blog
`)
	descs := Discover(root)
	if len(descs) != 2 {
		t.Fatalf("got %d descriptors: %+v", len(descs), descs)
	}
	for _, d := range descs {
		if d.Engine != EnginePostgres {
			t.Errorf("adapter not recognized: %+v", d)
		}
	}
}

func TestDiscoverSpringProperties(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "application.properties"),
		"spring.datasource.url=jdbc:postgresql://localhost:5432/spring_app\n")
	descs := Discover(root)
	if len(descs) != 1 {
		t.Fatalf("got %d descriptors: %+v", len(descs), descs)
	}
	if descs[0].Database != "spring_app" || !descs[0].IsLocal {
		t.Errorf("spring descriptor = %+v", descs[0])
	}
}

func TestDiscoverSQLiteByHeader(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data", "app.db"), "SQLite format 3\x00rest-of-header")
	writeFile(t, filepath.Join(root, "data", "fake.db"), "just a text file")
	descs := Discover(root)
	if len(descs) != 1 {
		t.Fatalf("got %d descriptors: %+v", len(descs), descs)
	}
	if descs[0].Engine != EngineSQLite || descs[0].Database != "app" {
		t.Errorf("sqlite descriptor = %+v", descs[0])
	}
}

func TestDiscoverDedup(t *testing.T) {
	root := t.TempDir()
	// Same database via URL and via the discrete block.
	writeFile(t, filepath.Join(root, ".env"),
		"DATABASE_URL=postgres://u:p@localhost:5432/app\n"+
			"DB_CONNECTION=pgsql\nDB_HOST=127.0.0.1\nDB_DATABASE=app\n")
	descs := Discover(root)
	if len(descs) != 1 {
		t.Errorf("dedup failed: %+v", descs)
	}
}

func TestDiscoverIgnoresExcludedDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "node_modules", "pkg", ".env"),
		"DATABASE_URL=postgres://u:p@localhost/dep\n")
	descs := Discover(root)
	if len(descs) != 0 {
		t.Errorf("descriptors from excluded directory: %+v", descs)
	}
}

func TestDiscoverComposeEnvList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "compose.yml"), `
services:
  cache:
    image: redis:7
  db:
    image: mysql:8
    environment:
      - MYSQL_DATABASE=shop
      - MYSQL_ROOT_PASSWORD=rootpw
`)
	descs := Discover(root)
	if len(descs) != 1 {
		t.Fatalf("got %d descriptors: %+v", len(descs), descs)
	}
	d := descs[0]
	if d.Engine != EngineMySQL || d.Kind != KindDocker || d.Container != "db" ||
		d.Database != "shop" || d.Password != "rootpw" || d.User != "root" {
		t.Errorf("compose mysql = %+v", d)
	}
}

func TestMongoURL(t *testing.T) {
	d, ok := fromURL(".env", "mongodb+srv://user:pw@cluster0.example.net/analytics")
	if !ok {
		t.Fatal("mongodb+srv URL not recognized")
	}
	if d.Engine != EngineMongo || d.Database != "analytics" || d.IsLocal {
		t.Errorf("mongo descriptor = %+v", d)
	}
}

func TestDedupKeyNormalizesHost(t *testing.T) {
	a := Descriptor{Engine: EnginePostgres, Kind: KindNetwork, Host: "localhost", Port: 5432, Database: "App"}
	b := Descriptor{Engine: EnginePostgres, Kind: KindNetwork, Host: "127.0.0.1", Database: "app"}
	if a.dedupKey() != b.dedupKey() {
		t.Errorf("keys differ: %q vs %q", a.dedupKey(), b.dedupKey())
	}
}
