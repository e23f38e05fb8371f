package dbpipe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunAcquiresDockerOncePerBatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "docker-compose.yml"), `
services:
  pg:
    image: postgres:15
    container_name: app-pg
    environment:
      POSTGRES_DB: app
      POSTGRES_PASSWORD: pw
  my:
    image: mysql:8
    container_name: app-my
    environment:
      MYSQL_DATABASE: shop
      MYSQL_ROOT_PASSWORD: rootpw
`)
	var acquires, releases int
	p := &Pipeline{
		Opts: Options{BackupDocker: true, Timeout: 2 * time.Second},
		acquireDocker: func(context.Context) (func(), error) {
			acquires++
			return func() { releases++ }, nil
		},
	}
	p.Run(context.Background(), root, filepath.Join(root, "out"))

	// Two docker dumps in one run must share a single docker lifetime;
	// releasing in between would stop the daemon mid-batch when
	// stop-after-backup is on.
	if acquires != 1 {
		t.Fatalf("docker acquired %d times for one batch, want 1", acquires)
	}
	if releases != 1 {
		t.Fatalf("docker released %d times, want 1", releases)
	}
}

func TestShouldSkipDecisions(t *testing.T) {
	p := &Pipeline{Opts: Options{BackupRemote: false, BackupDocker: false}}

	cases := []struct {
		desc Descriptor
		skip bool
	}{
		{Descriptor{Engine: EngineSQLite, Kind: KindSQLite, Path: "/p/app.db"}, false},
		{Descriptor{Engine: EnginePostgres, Kind: KindNetwork, IsLocal: true}, false},
		{Descriptor{Engine: EnginePostgres, Kind: KindNetwork, IsLocal: false}, true},
		{Descriptor{Engine: EngineMySQL, Kind: KindDocker, Container: "db"}, true},
	}
	for _, c := range cases {
		skip, _ := p.shouldSkip(c.desc)
		if skip != c.skip {
			t.Errorf("shouldSkip(%s) = %v, want %v", c.desc, skip, c.skip)
		}
	}

	p.Opts.BackupRemote = true
	p.Opts.BackupDocker = true
	if skip, _ := p.shouldSkip(Descriptor{Engine: EnginePostgres, Kind: KindNetwork}); skip {
		t.Error("remote skipped despite backup_remote enabled")
	}
	if skip, _ := p.shouldSkip(Descriptor{Engine: EngineMySQL, Kind: KindDocker}); skip {
		t.Error("docker skipped despite backup_docker enabled")
	}
}

func TestArtifactPathShape(t *testing.T) {
	desc := Descriptor{Engine: EnginePostgres, Database: "my app"}
	path := artifactPath("/backups/databases", desc, ".sql")
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "postgres_my_app_") {
		t.Errorf("artifact name = %q", base)
	}
	if !strings.HasSuffix(base, ".sql.gz") {
		t.Errorf("artifact suffix = %q", base)
	}
}

func TestClassifyFailureAbsentDatabaseIsSkipped(t *testing.T) {
	p := &Pipeline{}
	res := p.classifyFailure(Descriptor{Engine: EnginePostgres, Database: "app"},
		os.ErrInvalid, `pg_dump: error: database "app" does not exist`)
	if res.Outcome != OutcomeSkipped {
		t.Errorf("absent database classified as %s, want skipped", res.Outcome)
	}

	res = p.classifyFailure(Descriptor{Engine: EngineMySQL, Database: "shop"},
		os.ErrInvalid, "mysqldump: Got error: 1049: Unknown database 'shop'")
	if res.Outcome != OutcomeSkipped {
		t.Errorf("unknown database classified as %s, want skipped", res.Outcome)
	}

	res = p.classifyFailure(Descriptor{Engine: EnginePostgres, Database: "app"},
		os.ErrInvalid, "pg_dump: error: connection refused")
	if res.Outcome != OutcomeFailed {
		t.Errorf("connection refusal classified as %s, want failed", res.Outcome)
	}
}

func TestCredStoreLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.toml")
	if err := os.WriteFile(path, []byte(`
[postgres.app]
password = "s3cret"

[mysql.shop]
password = "other"
`), 0o600); err != nil {
		t.Fatal(err)
	}

	pw, ok := lookupCredential(path, EnginePostgres, "app")
	if !ok || pw != "s3cret" {
		t.Errorf("lookup = %q, %v", pw, ok)
	}
	if _, ok := lookupCredential(path, EnginePostgres, "missing"); ok {
		t.Error("unknown database resolved a credential")
	}
	if _, ok := lookupCredential(filepath.Join(dir, "nope.toml"), EnginePostgres, "app"); ok {
		t.Error("missing store resolved a credential")
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("my app/№1"); got != "my_app__1" {
		t.Errorf("sanitize = %q", got)
	}
}
