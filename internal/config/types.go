package config

import "time"

// Config is the honeycomb.yaml configuration.
type Config struct {
	LogLevel string      `yaml:"log_level"`
	Store    StoreConfig `yaml:"store"`
	API      APIConfig   `yaml:"api"`
	Bake     BakeConfig  `yaml:"bake"`
	Index    IndexConfig `yaml:"index"`

	// SourcePath is the file the config was read from; empty for defaults.
	SourcePath string `yaml:"-"`
}

// StoreConfig locates the SQLite package store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Token guards POST /bake with a bearer token. Empty leaves it open.
	Token string `yaml:"token,omitempty"`
	// MaxBodyBytes caps the size of request documents.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// BakeConfig tunes the baking pipeline.
type BakeConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// IndexConfig tunes the repository indexer.
type IndexConfig struct {
	Workers int    `yaml:"workers"`
	Output  string `yaml:"output"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Store:    StoreConfig{Path: "./honeycomb.db"},
		API: APIConfig{
			Listen:          "127.0.0.1:8765",
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    4 << 20,
		},
		Bake:  BakeConfig{MaxDepth: 32},
		Index: IndexConfig{Workers: 4, Output: "index.yaml"},
	}
}
