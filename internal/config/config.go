// Package config loads runtime configuration for the import/export service.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// Storage selects the persistence backend: memory, sqlite, or postgres.
	Storage     string `yaml:"storage"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`

	// Blob storage backend: fs, s3, or memory.
	BlobDriver  string `yaml:"blob_driver"`
	BlobRoot    string `yaml:"blob_root"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`

	// Import/export path overrides. When empty the per-project settings
	// stored with each project apply.
	ImportPath string `yaml:"import_path"`
	ExportPath string `yaml:"export_path"`

	// ReplaceNullCreationTimes stamps imported decisions that carry no
	// creation timestamp with the import time.
	ReplaceNullCreationTimes bool `yaml:"replace_null_creation_times"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env (dotenv, current directory only)
// 3. ~/.config/miqa/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		Storage:    "memory",
		SQLitePath: "miqa.db",
		BlobDriver: "fs",
	}

	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	// YAML config is optional.
	_ = loadYAMLConfig(cfg)

	if v := os.Getenv("MIQA_STORAGE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("MIQA_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("MIQA_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("MIQA_BLOB_DRIVER"); v != "" {
		cfg.BlobDriver = v
	}
	if v := os.Getenv("MIQA_BLOB_FS_ROOT"); v != "" {
		cfg.BlobRoot = v
	}
	if v := os.Getenv("MIQA_BLOB_S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}
	if v := os.Getenv("MIQA_BLOB_S3_REGION"); v != "" {
		cfg.S3Region = v
	}
	if v := os.Getenv("MIQA_BLOB_S3_ENDPOINT"); v != "" {
		cfg.S3Endpoint = v
	}
	if v := os.Getenv("MIQA_BLOB_S3_PATH_STYLE"); v != "" {
		cfg.S3PathStyle = parseBool(v)
	}
	if v := os.Getenv("MIQA_IMPORT_PATH"); v != "" {
		cfg.ImportPath = v
	}
	if v := os.Getenv("MIQA_EXPORT_PATH"); v != "" {
		cfg.ExportPath = v
	}
	if v := os.Getenv("MIQA_REPLACE_NULL_CREATION_TIMES"); v != "" {
		cfg.ReplaceNullCreationTimes = parseBool(v)
	}

	return cfg, nil
}

// loadYAMLConfig loads configuration from ~/.config/miqa/config.yaml.
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(homeDir, ".config", "miqa", "config.yaml"))
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
