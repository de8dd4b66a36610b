package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"

	"github.com/alecf/sdfcache/internal/cache"
	"github.com/alecf/sdfcache/internal/levelset"
)

// Config represents the sdfcache configuration file
type Config struct {
	CacheDirectory   string `toml:"cache_directory"`
	EnableCache      bool   `toml:"enable_cache"`
	ForceRegenerate  bool   `toml:"force_regenerate"`
	Verbose          bool   `toml:"verbose"`
	GeneratorCommand string `toml:"generator_command,omitempty"` // e.g. "sdfgen --threads 8"
	BandWidth        int    `toml:"band_width,omitempty"`        // narrow band in cells (defaults to 1)
	Backend          string `toml:"backend,omitempty"`           // "gpu" or "cpu"
	TrackUsage       bool   `toml:"track_usage"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		CacheDirectory: cache.DefaultCacheDirectory,
		EnableCache:    true,
		BandWidth:      cache.DefaultBandWidth,
		Backend:        levelset.BackendGPU.String(),
		TrackUsage:     true,
	}
}

// Load reads the configuration from the default config file and environment variables
func Load() (*Config, error) {
	return LoadFile(GetConfigPath())
}

// LoadFile reads the configuration from path. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	// Check if config file exists
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables if set
	if dir := os.Getenv("SDFCACHE_CACHE_DIR"); dir != "" {
		cfg.CacheDirectory = dir
	}
	if gen := os.Getenv("SDFCACHE_GENERATOR"); gen != "" {
		cfg.GeneratorCommand = gen
	}

	if _, err := levelset.ParseBackend(cfg.Backend); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the default config file
func Save(cfg *Config) error {
	return SaveFile(GetConfigPath(), cfg)
}

// SaveFile writes the configuration to path
func SaveFile(path string, cfg *Config) error {
	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CacheConfig returns the store settings
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		CacheDirectory:  c.CacheDirectory,
		EnableCache:     c.EnableCache,
		ForceRegenerate: c.ForceRegenerate,
		Verbose:         c.Verbose,
	}
}

// LevelSetBackend returns the configured generator backend, defaulting to GPU
func (c *Config) LevelSetBackend() levelset.Backend {
	b, err := levelset.ParseBackend(c.Backend)
	if err != nil {
		return levelset.BackendGPU
	}
	return b
}

// GetBandWidth returns the narrow band width, defaulting to 1
func (c *Config) GetBandWidth() int {
	if c.BandWidth > 0 {
		return c.BandWidth
	}
	return cache.DefaultBandWidth
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if path := os.Getenv("SDFCACHE_CONFIG"); path != "" {
		return path
	}

	configPath, err := xdg.ConfigFile("sdfcache/config.toml")
	if err != nil {
		// Fallback to home directory
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "sdfcache", "config.toml")
	}
	return configPath
}
