package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvDebug        = "CAUSA_DEBUG"
	EnvServerHost   = "CAUSA_SERVER_HOST"
	EnvServerPort   = "CAUSA_SERVER_PORT"
	EnvDatabasePath = "CAUSA_DATABASE_PATH"
	EnvDocumentsDir = "CAUSA_DOCUMENTS_DIR"
	EnvOutputDir    = "CAUSA_OUTPUT_DIR"
)

// ApplyEnv overrides cfg with CAUSA_* variables. Values come from the process
// environment, falling back to dotenv files (missing files are skipped). The
// process environment is not modified.
func ApplyEnv(cfg *Config, dotenvFiles ...string) error {
	fileVars := map[string]string{}
	for _, f := range dotenvFiles {
		vars, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", f, err)
		}
		for k, v := range vars {
			if _, ok := fileVars[k]; !ok {
				fileVars[k] = v
			}
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}

	if v, ok := lookup(EnvDebug); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		cfg.Debug = b
	}
	if v, ok := lookup(EnvServerHost); ok && v != "" {
		cfg.Server.Host = v
	}
	if v, ok := lookup(EnvServerPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvServerPort, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup(EnvDatabasePath); ok {
		cfg.Storage.DatabasePath = v
	}
	if v, ok := lookup(EnvDocumentsDir); ok {
		cfg.Input.DocumentsDir = v
	}
	if v, ok := lookup(EnvOutputDir); ok && v != "" {
		cfg.Output.Dir = v
	}
	return nil
}
