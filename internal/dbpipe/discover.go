package dbpipe

import (
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/untoldecay/checkpoint/internal/watcher"
)

const (
	configScanDepth  = 3
	composeScanDepth = 2
	sqliteScanDepth  = 3
)

// Discover walks a project root and returns every database it
// references, deduplicated by normalized (engine, host, port, database).
// Parse errors are per-file and never fail discovery.
func Discover(root string) []Descriptor {
	var found []Descriptor

	excluded := make(map[string]bool)
	for _, pat := range watcher.DefaultExcludes() {
		excluded[pat] = true
	}

	walk(root, configScanDepth, excluded, func(path string, d fs.DirEntry) {
		base := d.Name()
		switch {
		case strings.HasPrefix(base, ".env"):
			found = append(found, fromKeyValues(path, parseShellEnv(readAll(path)))...)
		case base == "wp-config.php":
			found = append(found, fromKeyValues(path, parsePHPDefines(readAll(path)))...)
		case base == "database.yml":
			found = append(found, fromRailsDatabaseYML(path, readAll(path))...)
		case base == "application.properties":
			found = append(found, fromKeyValues(path, parseProperties(readAll(path)))...)
		case base == "application.yml" || base == "application.yaml":
			found = append(found, fromKeyValues(path, flattenYAML(readAll(path)))...)
		}
	})

	walk(root, composeScanDepth, excluded, func(path string, d fs.DirEntry) {
		switch d.Name() {
		case "docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml":
			found = append(found, fromCompose(path, readAll(path))...)
		}
	})

	walk(root, sqliteScanDepth, excluded, func(path string, d fs.DirEntry) {
		switch filepath.Ext(d.Name()) {
		case ".db", ".sqlite", ".sqlite3":
			if isSQLiteFile(path) {
				found = append(found, Descriptor{
					Engine:   EngineSQLite,
					Kind:     KindSQLite,
					Path:     path,
					Database: strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
					Source:   path,
					IsLocal:  true,
				})
			}
		}
	})

	return dedup(found)
}

// walk visits regular files up to depth levels below root, skipping
// excluded directories. Errors are ignored.
func walk(root string, depth int, excluded map[string]bool, visit func(path string, d fs.DirEntry)) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		level := strings.Count(rel, string(filepath.Separator))
		if d.IsDir() {
			if path != root && excluded[d.Name()] {
				return filepath.SkipDir
			}
			if level >= depth {
				return filepath.SkipDir
			}
			return nil
		}
		visit(path, d)
		return nil
	})
}

func readAll(path string) string {
	data, err := os.ReadFile(path) // #nosec G304 -- discovery walks the project tree by design
	if err != nil {
		return ""
	}
	return string(data)
}

// dedup keeps the first descriptor per normalized identity. Input order
// is file-discovery order, so explicit configs win over compose and
// SQLite scans of the same database.
func dedup(in []Descriptor) []Descriptor {
	seen := make(map[string]bool)
	out := make([]Descriptor, 0, len(in))
	for _, d := range in {
		key := d.dedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

// --- value hygiene ---

var interpolationRe = regexp.MustCompile(`\$\{[^}]*\}|\$[A-Za-z_]`)

// usable rejects placeholders and unresolved interpolation. Such values
// are not credentials, they are templates.
func usable(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "null", "none", "undefined":
		return false
	}
	return !interpolationRe.MatchString(v)
}

func cleanValue(v string) (string, bool) {
	if !usable(v) {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// --- file format parsers ---

// parseShellEnv parses KEY=value lines, stripping inline comments and
// surrounding quotes.
func parseShellEnv(text string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "export "))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		val = stripInlineComment(val)
		val = trimQuotes(val)
		if key != "" {
			out[key] = val
		}
	}
	return out
}

// stripInlineComment cuts an unquoted trailing comment.
func stripInlineComment(v string) string {
	if len(v) > 0 && (v[0] == '"' || v[0] == '\'') {
		if end := strings.IndexByte(v[1:], v[0]); end >= 0 {
			return v[:end+2]
		}
		return v
	}
	if i := strings.Index(v, " #"); i >= 0 {
		return strings.TrimSpace(v[:i])
	}
	if i := strings.Index(v, "\t#"); i >= 0 {
		return strings.TrimSpace(v[:i])
	}
	return v
}

func trimQuotes(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

var phpDefineRe = regexp.MustCompile(`define\(\s*['"]([A-Za-z0-9_]+)['"]\s*,\s*['"]([^'"]*)['"]\s*\)`)

// parsePHPDefines extracts define('KEY', 'value') pairs.
func parsePHPDefines(text string) map[string]string {
	out := make(map[string]string)
	for _, m := range phpDefineRe.FindAllStringSubmatch(text, -1) {
		out[m[1]] = m[2]
	}
	return out
}

// parseProperties parses Java-style key=value / key: value lines.
func parseProperties(text string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		sep := strings.IndexAny(line, "=:")
		if sep <= 0 {
			continue
		}
		out[strings.TrimSpace(line[:sep])] = strings.TrimSpace(line[sep+1:])
	}
	return out
}

// flattenYAML parses a YAML document into dotted keys, so Spring-style
// nested config reads like properties.
func flattenYAML(text string) map[string]string {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil
	}
	out := make(map[string]string)
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]string, prefix string, node any) {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenInto(out, key, child)
		}
	case string:
		out[prefix] = v
	case int:
		out[prefix] = strconv.Itoa(v)
	case bool:
		out[prefix] = strconv.FormatBool(v)
	case float64:
		out[prefix] = strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// --- descriptor extraction from key/value maps ---

// fromKeyValues applies every recognizer to a parsed key/value map:
// connection URLs, per-engine env prefixes, and the generic
// DB_CONNECTION block.
func fromKeyValues(source string, kv map[string]string) []Descriptor {
	if len(kv) == 0 {
		return nil
	}
	var out []Descriptor

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, ok := cleanValue(kv[k])
		if !ok {
			continue
		}
		if d, ok := fromURL(source, v); ok {
			out = append(out, d)
		}
	}

	out = append(out, fromEnginePrefixes(source, kv)...)

	if d, ok := fromGenericBlock(source, kv); ok {
		out = append(out, d)
	}
	return out
}

var urlSchemeRe = regexp.MustCompile(`(?i)^(jdbc:)?(postgres(?:ql)?(?:\+[a-z0-9]+)?|mysql2?|mariadb|mongodb(?:\+srv)?)://`)

// fromURL recognizes engine connection URLs, including optional auth
// and a query-string sslmode.
func fromURL(source, raw string) (Descriptor, bool) {
	m := urlSchemeRe.FindStringSubmatch(raw)
	if m == nil {
		return Descriptor{}, false
	}
	raw = strings.TrimPrefix(raw, m[1]) // drop a jdbc: wrapper
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, false
	}
	engine := normalizeEngine(strings.SplitN(u.Scheme, "+", 2)[0])
	if engine == "" {
		return Descriptor{}, false
	}
	d := Descriptor{
		Engine:    engine,
		Kind:      KindNetwork,
		Host:      u.Hostname(),
		Database:  strings.TrimPrefix(u.Path, "/"),
		Source:    source,
		SourceURL: raw,
		SSLMode:   u.Query().Get("sslmode"),
	}
	if p := u.Port(); p != "" {
		d.Port, _ = strconv.Atoi(p)
	}
	if d.Port == 0 {
		d.Port = DefaultPort(engine)
	}
	if u.User != nil {
		d.User = u.User.Username()
		d.Password, _ = u.User.Password()
	}
	if d.Database == "" {
		return Descriptor{}, false
	}
	if d.Host == "" {
		d.Host = "localhost"
	}
	d.IsLocal = localHost(d.Host)
	return d, true
}

func normalizeEngine(s string) Engine {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pgsql", "pg":
		return EnginePostgres
	case "mysql", "mysql2", "mariadb":
		return EngineMySQL
	case "mongodb", "mongo":
		return EngineMongo
	case "sqlite", "sqlite3":
		return EngineSQLite
	}
	return ""
}

// prefixSpec describes one engine's discrete env-var convention.
type prefixSpec struct {
	engine   Engine
	prefixes []string
	dbKeys   []string
	userKeys []string
	passKeys []string
	hostKeys []string
	portKeys []string
}

var prefixSpecs = []prefixSpec{
	{
		engine:   EnginePostgres,
		prefixes: []string{"POSTGRES_", "PG_"},
		dbKeys:   []string{"DB", "DATABASE", "DBNAME"},
		userKeys: []string{"USER", "USERNAME"},
		passKeys: []string{"PASSWORD"},
		hostKeys: []string{"HOST"},
		portKeys: []string{"PORT"},
	},
	{
		engine:   EngineMySQL,
		prefixes: []string{"MYSQL_"},
		dbKeys:   []string{"DATABASE", "DB"},
		userKeys: []string{"USER", "USERNAME"},
		passKeys: []string{"PASSWORD", "ROOT_PASSWORD"},
		hostKeys: []string{"HOST"},
		portKeys: []string{"PORT"},
	},
	{
		engine:   EngineMongo,
		prefixes: []string{"MONGO_", "MONGODB_"},
		dbKeys:   []string{"DB", "DATABASE", "INITDB_DATABASE"},
		userKeys: []string{"USER", "USERNAME", "INITDB_ROOT_USERNAME"},
		passKeys: []string{"PASSWORD", "INITDB_ROOT_PASSWORD"},
		hostKeys: []string{"HOST"},
		portKeys: []string{"PORT"},
	},
}

// fromEnginePrefixes recognizes POSTGRES_* / PG_* / MYSQL_* / MONGO_*
// style variable groups. A group without a database name is ignored.
func fromEnginePrefixes(source string, kv map[string]string) []Descriptor {
	var out []Descriptor
	for _, spec := range prefixSpecs {
		for _, prefix := range spec.prefixes {
			lookup := func(suffixes []string) string {
				for _, suf := range suffixes {
					if v, ok := cleanValue(kv[prefix+suf]); ok {
						return v
					}
				}
				return ""
			}
			db := lookup(spec.dbKeys)
			if db == "" {
				continue
			}
			d := Descriptor{
				Engine:   spec.engine,
				Kind:     KindNetwork,
				Database: db,
				User:     lookup(spec.userKeys),
				Password: lookup(spec.passKeys),
				Host:     lookup(spec.hostKeys),
				Source:   source,
			}
			if d.Host == "" {
				d.Host = "localhost"
			}
			if p := lookup(spec.portKeys); p != "" {
				d.Port, _ = strconv.Atoi(p)
			}
			if d.Port == 0 {
				d.Port = DefaultPort(spec.engine)
			}
			d.IsLocal = localHost(d.Host)
			out = append(out, d)
			break
		}
	}
	return out
}

// fromGenericBlock recognizes the Laravel-style DB_* block. The engine
// comes from DB_CONNECTION; a block without one but with DB_HOST and
// DB_NAME (WordPress) is inferred as mysql.
func fromGenericBlock(source string, kv map[string]string) (Descriptor, bool) {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := cleanValue(kv[k]); ok {
				return v
			}
		}
		return ""
	}

	db := get("DB_DATABASE", "DB_NAME")
	if db == "" {
		return Descriptor{}, false
	}
	engine := normalizeEngine(get("DB_CONNECTION"))
	if engine == "" {
		if get("DB_HOST") == "" {
			return Descriptor{}, false
		}
		engine = EngineMySQL
	}
	if engine == EngineSQLite {
		path := get("DB_DATABASE")
		return Descriptor{
			Engine: EngineSQLite, Kind: KindSQLite, Path: path,
			Database: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Source:   source, IsLocal: true,
		}, true
	}

	d := Descriptor{
		Engine:   engine,
		Kind:     KindNetwork,
		Database: db,
		Host:     get("DB_HOST"),
		User:     get("DB_USERNAME", "DB_USER"),
		Password: get("DB_PASSWORD"),
		Source:   source,
	}
	if d.Host == "" {
		d.Host = "localhost"
	}
	if p := get("DB_PORT"); p != "" {
		d.Port, _ = strconv.Atoi(p)
	}
	if d.Port == 0 {
		d.Port = DefaultPort(engine)
	}
	d.IsLocal = localHost(d.Host)
	return d, true
}

// fromRailsDatabaseYML reads config/database.yml: one environment per
// top-level key, adapter/host/database/username/password fields.
func fromRailsDatabaseYML(source, text string) []Descriptor {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil
	}
	var out []Descriptor
	envs := make([]string, 0, len(doc))
	for env := range doc {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	for _, env := range envs {
		section, ok := doc[env].(map[string]any)
		if !ok {
			continue
		}
		get := func(key string) string {
			if v, ok := section[key].(string); ok {
				if cv, ok := cleanValue(v); ok {
					return cv
				}
			}
			return ""
		}
		engine := normalizeEngine(get("adapter"))
		db := get("database")
		if engine == "" || db == "" {
			continue
		}
		if engine == EngineSQLite {
			out = append(out, Descriptor{
				Engine: EngineSQLite, Kind: KindSQLite, Path: db,
				Database: strings.TrimSuffix(filepath.Base(db), filepath.Ext(db)),
				Source:   source, IsLocal: true,
			})
			continue
		}
		d := Descriptor{
			Engine:   engine,
			Kind:     KindNetwork,
			Database: db,
			Host:     get("host"),
			User:     get("username"),
			Password: get("password"),
			Source:   source,
		}
		if d.Host == "" {
			d.Host = "localhost"
		}
		if port, ok := section["port"].(int); ok {
			d.Port = port
		}
		if d.Port == 0 {
			d.Port = DefaultPort(engine)
		}
		d.IsLocal = localHost(d.Host)
		out = append(out, d)
	}
	return out
}

// --- compose files ---

type composeDoc struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image         string    `yaml:"image"`
	ContainerName string    `yaml:"container_name"`
	Environment   yaml.Node `yaml:"environment"`
}

// fromCompose extracts Dockerized databases from a compose file:
// services whose image is a known engine, with container name and
// engine-specific env vars.
func fromCompose(source, text string) []Descriptor {
	var doc composeDoc
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil
	}
	var out []Descriptor
	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := doc.Services[name]
		engine := engineFromImage(svc.Image)
		if engine == "" {
			continue
		}
		env := composeEnv(svc.Environment)
		container := svc.ContainerName
		if container == "" {
			container = name
		}
		d := Descriptor{
			Engine:    engine,
			Kind:      KindDocker,
			Container: container,
			Source:    source,
			IsLocal:   true,
			Port:      DefaultPort(engine),
		}
		switch engine {
		case EnginePostgres:
			d.Database = pick(env, "POSTGRES_DB")
			d.User = pick(env, "POSTGRES_USER")
			d.Password = pick(env, "POSTGRES_PASSWORD")
			if d.User == "" {
				d.User = "postgres"
			}
		case EngineMySQL:
			d.Database = pick(env, "MYSQL_DATABASE")
			d.User = pick(env, "MYSQL_USER")
			d.Password = pick(env, "MYSQL_PASSWORD", "MYSQL_ROOT_PASSWORD")
			if d.User == "" {
				d.User = "root"
			}
		case EngineMongo:
			d.Database = pick(env, "MONGO_INITDB_DATABASE")
			d.User = pick(env, "MONGO_INITDB_ROOT_USERNAME")
			d.Password = pick(env, "MONGO_INITDB_ROOT_PASSWORD")
		}
		if d.Database == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

func pick(env map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := cleanValue(env[k]); ok {
			return v
		}
	}
	return ""
}

// composeEnv accepts both environment shapes: a mapping and a list of
// KEY=value strings.
func composeEnv(node yaml.Node) map[string]string {
	out := make(map[string]string)
	switch node.Kind {
	case yaml.MappingNode:
		var m map[string]string
		if err := node.Decode(&m); err == nil {
			for k, v := range m {
				out[k] = v
			}
		}
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err == nil {
			for _, item := range list {
				if eq := strings.Index(item, "="); eq > 0 {
					out[item[:eq]] = item[eq+1:]
				}
			}
		}
	}
	return out
}

func engineFromImage(image string) Engine {
	image = strings.ToLower(image)
	// Strip registry/namespace and tag.
	if i := strings.LastIndex(image, "/"); i >= 0 {
		image = image[i+1:]
	}
	if i := strings.Index(image, ":"); i >= 0 {
		image = image[:i]
	}
	switch {
	case strings.HasPrefix(image, "postgres"):
		return EnginePostgres
	case strings.HasPrefix(image, "mysql"), strings.HasPrefix(image, "mariadb"), strings.HasPrefix(image, "percona"):
		return EngineMySQL
	case strings.HasPrefix(image, "mongo"):
		return EngineMongo
	}
	return ""
}

// --- sqlite detection ---

var sqliteHeader = []byte("SQLite format 3\x00")

// isSQLiteFile verifies the 16-byte magic header.
func isSQLiteFile(path string) bool {
	f, err := os.Open(path) // #nosec G304 -- discovery walks the project tree by design
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(sqliteHeader))
	n, err := f.Read(buf)
	if err != nil || n < len(sqliteHeader) {
		return false
	}
	return string(buf) == string(sqliteHeader)
}
