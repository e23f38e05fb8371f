// Package config loads and merges checkpoint configuration with the
// precedence: environment overrides > per-project config > global config >
// built-in defaults. It owns the key schema, typed reads, and atomic
// schema-validated writes with an audit trail.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// projectConfigPath remembers where the project config was found so
// writes target the canonical location.
var projectConfigPath string

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")
	projectConfigPath = ""

	// Environment overrides: CHECKPOINT_BACKUP_INTERVAL maps to
	// backup.interval, and so on.
	v.SetEnvPrefix("CHECKPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, spec := range Schema {
		v.SetDefault(key, spec.Default)
	}

	// The global file is read first so a project file only overrides the
	// keys it actually sets; global values fill the rest.
	loaded := false
	if configDir, err := os.UserConfigDir(); err == nil {
		global := filepath.Join(configDir, "checkpoint", "config.yaml")
		if _, err := os.Stat(global); err == nil {
			v.SetConfigFile(global)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("error reading config file: %w", err)
			}
			loaded = true
		}
	}

	// Project config found by walking up from CWD merges on top.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".checkpoint", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				if err := v.MergeInConfig(); err != nil {
					return fmt.Errorf("error reading config file: %w", err)
				}
				projectConfigPath = candidate
				loaded = true
				break
			}
			// A flat key=value file is tolerated and migrated on write.
			flat := filepath.Join(dir, ".checkpoint", "config")
			if _, err := os.Stat(flat); err == nil {
				if merged, err := loadFlatFile(flat); err == nil {
					if err := v.MergeConfigMap(merged); err != nil {
						return fmt.Errorf("error merging config file: %w", err)
					}
					projectConfigPath = filepath.Join(dir, ".checkpoint", "config.yaml")
					loaded = true
					break
				}
			}
		}
	}

	if loaded {
		warnUnknownKeys(UnknownKeys())
	}
	return nil
}

// warnUnknownKeys emits a warning for keys the schema does not recognize.
func warnUnknownKeys(keys []string) {
	for _, key := range keys {
		fmt.Fprintf(os.Stderr, "Warning: unknown config key %q (ignored)\n", key)
	}
}

// UnknownKeys returns config-file keys the schema does not recognize.
// Used by `config validate --strict`.
func UnknownKeys() []string {
	if v == nil {
		return nil
	}
	var unknown []string
	for _, key := range v.AllKeys() {
		if !IsKnownKey(key) {
			unknown = append(unknown, key)
		}
	}
	return unknown
}

// ProjectConfigPath returns the canonical path writes target, or "" when
// no project config exists yet.
func ProjectConfigPath() string { return projectConfigPath }

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetPath retrieves a path value with ~ and $VAR expansion applied.
func GetPath(key string) string {
	p := GetString(key)
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return os.ExpandEnv(p)
}

// GetEnum retrieves an enum value, falling back to the schema default
// when the configured value is not in the allowed set.
func GetEnum(key string) string {
	val := GetString(key)
	spec, ok := Schema[key]
	if !ok || spec.Type != TypeEnum {
		return val
	}
	for _, allowed := range spec.Enum {
		if val == allowed {
			return val
		}
	}
	if def, ok := spec.Default.(string); ok {
		return def
	}
	return val
}

// GetStringSlice retrieves a string slice configuration value.
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// Set sets a configuration value in memory (flags override files).
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// ValidateValue checks a raw string value against the schema for key.
// Returns the typed value to store, or an error.
func ValidateValue(key, raw string) (interface{}, error) {
	spec, ok := Schema[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	switch spec.Type {
	case TypeBool:
		switch strings.ToLower(raw) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("%s expects a boolean, got %q", key, raw)
	case TypeInt:
		var n int
		if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
			return nil, fmt.Errorf("%s expects an integer, got %q", key, raw)
		}
		return n, nil
	case TypeDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			// Bare seconds are tolerated: "3600" means 3600s.
			var secs int
			if _, serr := fmt.Sscanf(raw, "%d", &secs); serr == nil {
				return time.Duration(secs) * time.Second, nil
			}
			return nil, fmt.Errorf("%s expects a duration, got %q", key, raw)
		}
		return d, nil
	case TypeEnum:
		for _, allowed := range spec.Enum {
			if raw == allowed {
				return raw, nil
			}
		}
		return nil, fmt.Errorf("%s expects one of %v, got %q", key, spec.Enum, raw)
	case TypeList:
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}
