// Package config assembles process-level settings from the environment.
// Subsystem-specific settings (database, LLM providers, verifier) keep
// their own FromEnv loaders; this package covers the rest.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config is the top-level process configuration.
type Config struct {
	// HTTPPort is the listen port of the API server.
	HTTPPort int
	// DataDir holds files the service persists outside the database.
	DataDir string
	// VectorIndexPath and VectorMappingPath locate the persisted vector
	// index file pair. Defaults live under DataDir.
	VectorIndexPath   string
	VectorMappingPath string
	// VectorDim is the vector index dimension.
	VectorDim int
}

// Load builds a Config from the environment, applying defaults.
func Load() Config {
	dataDir := getEnvOrDefault("SYNAPSE_DATA_DIR", ".")

	cfg := Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		DataDir:           dataDir,
		VectorIndexPath:   getEnvOrDefault("VECTOR_INDEX_PATH", filepath.Join(dataDir, "synapse.index")),
		VectorMappingPath: getEnvOrDefault("VECTOR_ID_MAPPING_PATH", filepath.Join(dataDir, "synapse.index.ids.json")),
		VectorDim:         getEnvInt("VECTOR_DIM", 768),
	}
	return cfg
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
