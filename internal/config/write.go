package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WriteKey validates and persists a single key to the canonical YAML
// config at path, atomically, and appends an audit line recording the
// transition. The in-memory view is updated as well.
func WriteKey(path, key, raw string) error {
	value, err := ValidateValue(key, raw)
	if err != nil {
		return err
	}

	doc := map[string]interface{}{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing existing config: %w", err)
		}
	}

	old := nestedGet(doc, key)
	nestedSet(doc, key, value)

	if err := writeYAMLAtomic(path, doc); err != nil {
		return err
	}
	if err := appendAudit(filepath.Dir(path), key, old, value); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: audit append failed: %v\n", err)
	}

	Set(key, value)
	return nil
}

// Migrate loads a flat key=value config file and writes the normalized
// hierarchical YAML form next to it. The flat file is left in place;
// loads prefer the YAML from then on.
func Migrate(flatPath, yamlPath string) error {
	values, err := loadFlatFile(flatPath)
	if err != nil {
		return err
	}
	doc := map[string]interface{}{}
	for key, val := range values {
		nestedSet(doc, key, val)
	}
	return writeYAMLAtomic(yamlPath, doc)
}

// loadFlatFile parses a KEY=value file with inline-comment stripping and
// quote removal. Keys may be dotted or use the legacy UPPER_SNAKE shape,
// which maps to dotted lowercase (BACKUP_INTERVAL -> backup.interval).
func loadFlatFile(path string) (map[string]interface{}, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the project's own .checkpoint directory
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	values := map[string]interface{}{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 1 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if i := strings.Index(val, " #"); i >= 0 {
			val = strings.TrimSpace(val[:i])
		}
		val = strings.Trim(val, `"'`)

		if key == strings.ToUpper(key) {
			key = strings.ToLower(strings.ReplaceAll(key, "_", "."))
		}
		if !IsKnownKey(key) {
			// Legacy single-underscore keys used one level of nesting;
			// try replacing only the first separator.
			if idx := strings.Index(key, "."); idx >= 0 {
				alt := key[:idx] + "." + strings.ReplaceAll(key[idx+1:], ".", "_")
				if IsKnownKey(alt) {
					key = alt
				}
			}
		}

		typed, err := ValidateValue(key, val)
		if err != nil {
			// Unknown or malformed entries warn, never abort a load.
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			continue
		}
		values[key] = typed
	}
	return values, scanner.Err()
}

// writeYAMLAtomic marshals doc and writes it with temp-then-rename.
func writeYAMLAtomic(path string, doc map[string]interface{}) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "config-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// appendAudit records {timestamp, key, old→new} in audit.log beside the
// config file.
func appendAudit(dir, key string, old, now interface{}) error {
	f, err := os.OpenFile(filepath.Join(dir, "audit.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) // #nosec G304 -- dir is the project's .checkpoint directory
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = fmt.Fprintf(f, "%s %s %v -> %v\n", time.Now().Format(time.RFC3339), key, old, now)
	return err
}

// nestedGet walks a dotted key through nested maps.
func nestedGet(doc map[string]interface{}, key string) interface{} {
	parts := strings.Split(key, ".")
	cur := doc
	for i, part := range parts {
		val, ok := cur[part]
		if !ok {
			return nil
		}
		if i == len(parts)-1 {
			return val
		}
		next, ok := val.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = next
	}
	return nil
}

// nestedSet writes a dotted key into nested maps, creating levels.
func nestedSet(doc map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// SortedKeys returns the schema keys in stable order for listings.
func SortedKeys() []string {
	keys := make([]string, 0, len(Schema))
	for k := range Schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
