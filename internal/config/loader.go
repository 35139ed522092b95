package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mongoagent/internal/domain"
)

// marshalIndent and writeFile are used by WriteDefault and Save; tests may
// replace them to force errors.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
)

// Default returns the baseline configuration.
func Default() *domain.Config {
	return &domain.Config{
		Model:         "gpt-4o",
		MCPServerURL:  "http://localhost:3000/mcp",
		Database:      "buzzin-api-staging",
		Collection:    "events",
		MaxIterations: 5,
		TokenEncoding: "cl100k_base",
		Retry: domain.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 500,
			MaxBackoff:     30000,
			Multiplier:     2,
		},
		ReportDB:  "file:mongoagent-reports.db",
		LogFormat: "text",
		LogLevel:  "info",
	}
}

// WriteDefault writes a default Config to path (e.g. mongoagent.json). Parent
// directories are not created.
func WriteDefault(path string) error {
	data, err := marshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data, 0644)
}

// Load reads path, unmarshals into domain.Config, cleans path fields, and
// validates. Returns an error if the file is missing or invalid JSON.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	var c domain.Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	CleanPaths(&c)
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CleanPaths applies filepath.Clean to path fields to mitigate path
// traversal.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	if cfg.SchemaPath != "" {
		cfg.SchemaPath = filepath.Clean(cfg.SchemaPath)
	}
}

// Validate rejects configurations the pipeline cannot run with.
func Validate(cfg *domain.Config) error {
	if cfg.Model == "" {
		return fmt.Errorf("config: model must not be empty")
	}
	if cfg.MCPServerURL == "" {
		return fmt.Errorf("config: mcpServerUrl must not be empty")
	}
	if cfg.Database == "" {
		return fmt.Errorf("config: database must not be empty")
	}
	if cfg.MaxIterations < 0 {
		return fmt.Errorf("config: maxIterations must not be negative")
	}
	return nil
}

// Save writes cfg to path as JSON.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}
