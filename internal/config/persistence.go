// file: internal/config/persistence.go
// version: 2.0.0
// guid: 9c8d7e6f-5a4b-3c2d-1e0f-9a8b7c6d5e4f

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigFilePath returns the file viper read its settings from, falling
// back to config.yaml inside the data directory.
func ConfigFilePath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	if AppConfig.DataDir != "" {
		return filepath.Join(AppConfig.DataDir, "config.yaml")
	}
	return ""
}

// ToMap renders c with the same keys the config file uses.
func ToMap(c Config) map[string]any {
	return map[string]any{
		"data_url":           c.DataURL,
		"data_dir":           c.DataDir,
		"default_session":    c.DefaultSession,
		"sessions":           c.Sessions,
		"chunk_cache_size":   c.ChunkCacheSize,
		"fetch_attempts":     c.FetchAttempts,
		"fetch_base_delay":   c.FetchBaseDelay.String(),
		"fetch_timeout":      c.FetchTimeout.String(),
		"fetch_rate_limit":   c.FetchRateLimit,
		"disk_cache_path":    c.DiskCachePath,
		"disk_cache_ttl":     c.DiskCacheTTL.String(),
		"search_limit":       c.SearchLimit,
		"search_threshold":   c.SearchThreshold,
		"search_debounce":    c.SearchDebounce.String(),
		"query_cache_size":   c.QueryCacheSize,
		"language":           c.Language,
		"show_error_details": c.ShowErrorDetails,
		"host":               c.Host,
		"port":               c.Port,
		"rate_limit":         c.RateLimit,
		"rate_burst":         c.RateBurst,
		"watch_data_dir":     c.WatchDataDir,
		"preload":            c.Preload,
		"workers":            c.Workers,
		"shutdown_grace":     c.ShutdownGrace.String(),
	}
}

// SaveConfigToFile writes the effective configuration as YAML.
func SaveConfigToFile(path string) error {
	if path == "" {
		return fmt.Errorf("cannot determine config file path")
	}
	data, err := yaml.Marshal(ToMap(AppConfig))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	log.Printf("[INFO] wrote configuration to %s", path)
	return nil
}

// LoadConfigFromFile merges a YAML file into viper and rebuilds AppConfig.
// A missing file is not an error.
func LoadConfigFromFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig map[string]any
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := viper.MergeConfigMap(fileConfig); err != nil {
		return fmt.Errorf("failed to apply config file %s: %w", path, err)
	}
	InitConfig()
	log.Printf("[INFO] applied %d settings from config file %s", len(fileConfig), path)
	return nil
}
