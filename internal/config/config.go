// Package config provides configuration loading and structs for causa.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Input    InputConfig    `yaml:"input"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Features FeatureConfig  `yaml:"features"`
	Split    SplitConfig    `yaml:"split"`
	Output   OutputConfig   `yaml:"output"`
	Watch    WatchConfig    `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the SQLite database path. An empty path disables persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// InputConfig describes where hypothesis records come from.
type InputConfig struct {
	// Paths are .xlsx or .csv tables with the record columns.
	Paths []string `yaml:"paths"`
	// Sheet selects the spreadsheet sheet; empty means the first sheet.
	Sheet string `yaml:"sheet"`
	// DocumentsDir holds the source papers named by file_name, used to fill
	// records that have no sentence.
	DocumentsDir string `yaml:"documents_dir"`
	// Extensions are the input table extensions picked up from directories.
	Extensions []string `yaml:"extensions"`
}

// PipelineConfig holds normalization and analysis settings.
type PipelineConfig struct {
	Marker1        string   `yaml:"marker1"`
	Marker2        string   `yaml:"marker2"`
	StopWords      string   `yaml:"stop_words"`
	ExtraStopWords []string `yaml:"extra_stop_words"`
	Lemmatizer     string   `yaml:"lemmatizer"`
	Dedup          string   `yaml:"dedup"`
	Workers        int      `yaml:"workers"`
}

// FeatureConfig holds n-gram vectorizer settings.
type FeatureConfig struct {
	NGramSize      int `yaml:"ngram_size"`
	MinTokenLength int `yaml:"min_token_length"`
}

// SplitConfig holds train/test split settings.
type SplitConfig struct {
	Ratio float64 `yaml:"ratio"`
	Seed  uint64  `yaml:"seed"`
}

// OutputConfig holds where and how processed tables are written.
type OutputConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

// WatchConfig holds input watch settings.
type WatchConfig struct {
	Recursive *bool `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to false when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return false
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	if cfg.Storage.DatabasePath != "" {
		cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	}
	if cfg.Input.DocumentsDir != "" {
		cfg.Input.DocumentsDir = expandPath(cfg.Input.DocumentsDir, configDir)
	}
	cfg.Output.Dir = expandPath(cfg.Output.Dir, configDir)
	for i := range cfg.Input.Paths {
		cfg.Input.Paths[i] = expandPath(cfg.Input.Paths[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
