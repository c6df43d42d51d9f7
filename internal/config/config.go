package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbfetch/mbfetch/internal/safety"
)

// Config is the top-level configuration
type Config struct {
	Catalog  CatalogConfig  `yaml:"catalog"`
	Download DownloadConfig `yaml:"download"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
}

// CatalogConfig holds release-listing settings
type CatalogConfig struct {
	URL       string `yaml:"url"`
	UserAgent string `yaml:"user_agent"`
	Timeout   string `yaml:"timeout"`
	CacheSize int    `yaml:"cache_size"`
}

// TimeoutDuration parses the configured catalog timeout.
func (c CatalogConfig) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parsing catalog timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

// DownloadConfig holds transfer settings
type DownloadConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// ServerConfig holds status-server settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// DatabaseConfig holds transfer-history store settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			URL:       "https://api.github.com/repos/niXman/mingw-builds-binaries/releases",
			UserAgent: "mbfetch/1.0",
			Timeout:   "30s",
			CacheSize: 8,
		},
		Download: DownloadConfig{
			OutputDir: ".",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8646",
		},
		Database: DatabaseConfig{
			Path: "mbfetch.db",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"mbfetch.yaml",
		"/etc/mbfetch/mbfetch.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "mbfetch", "mbfetch.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks the fields other components will refuse at use time.
func (c *Config) Validate() error {
	if _, err := safety.ValidateHTTPURL(c.Catalog.URL); err != nil {
		return fmt.Errorf("catalog url: %w", err)
	}
	if _, err := c.Catalog.TimeoutDuration(); err != nil {
		return err
	}
	if c.Catalog.CacheSize < 0 {
		return fmt.Errorf("catalog cache_size must not be negative, got %d", c.Catalog.CacheSize)
	}
	if c.Download.OutputDir == "" {
		return fmt.Errorf("download output_dir must not be empty")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}
	return nil
}

// Write marshals the config to the given path, creating parent
// directories. Used by "config init".
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
