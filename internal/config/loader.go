package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "HONEYCOMB_CONFIG"

// FileName is the config file looked up in the working directory.
const FileName = "honeycomb.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Resolve picks the config file to read: the explicit path, then
// $HONEYCOMB_CONFIG, then ./honeycomb.yaml. An empty result means defaults.
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}
	return ""
}

// Load reads the configuration at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Defaults()
		return cfg, validate(cfg)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, FileName)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", absPath, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse decodes configuration bytes, expands ${VAR} references, applies
// defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validate where it matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaults.Store.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.ShutdownTimeout == 0 {
		cfg.API.ShutdownTimeout = defaults.API.ShutdownTimeout
	}
	if cfg.API.MaxBodyBytes == 0 {
		cfg.API.MaxBodyBytes = defaults.API.MaxBodyBytes
	}
	if cfg.Bake.MaxDepth == 0 {
		cfg.Bake.MaxDepth = defaults.Bake.MaxDepth
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = defaults.Index.Workers
	}
	if cfg.Index.Output == "" {
		cfg.Index.Output = defaults.Index.Output
	}
}

func validate(cfg *Config) error {
	var errs []error

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel))
	}
	if cfg.Bake.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("bake.max_depth must be positive"))
	}
	if cfg.Index.Workers < 1 {
		errs = append(errs, fmt.Errorf("index.workers must be positive"))
	}
	if cfg.API.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("api.max_body_bytes must be positive"))
	}
	if matches := envVarPattern.FindStringSubmatch(cfg.API.Token); len(matches) > 1 {
		errs = append(errs, fmt.Errorf("api.token: environment variable ${%s} is not set", matches[1]))
	}
	if matches := envVarPattern.FindStringSubmatch(cfg.Store.Path); len(matches) > 1 {
		errs = append(errs, fmt.Errorf("store.path: environment variable ${%s} is not set", matches[1]))
	}
	return errors.Join(errs...)
}
