package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the settings shared by the codec service and the CLI.
type Config struct {
	LogLevel    string   `mapstructure:"log_level"`
	PluginPaths []string `mapstructure:"plugin_paths"`

	// Codec names the plugin to use. Empty selects the only loaded plugin.
	Codec string `mapstructure:"codec"`

	Wasm    WasmConfig    `mapstructure:"wasm"`
	Encode  EncodeConfig  `mapstructure:"encode"`
	Decode  DecodeConfig  `mapstructure:"decode"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Set the guest debug global and log guest debug messages.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum concurrent instances per codec.
	MaxInstances int `mapstructure:"max_instances"`
}

// EncodeConfig holds encoder defaults.
type EncodeConfig struct {
	Bitrate float32 `mapstructure:"bitrate"`
	PPI     int32   `mapstructure:"ppi"`
}

// DecodeConfig holds decoder limits.
type DecodeConfig struct {
	// Largest image, in pixels, a decode may produce.
	MaxPixels int64 `mapstructure:"max_pixels"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from configPath, or returns defaults when it is empty.
// Environment variables prefixed with WSQ_ override both.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("plugin_paths", []string{"./plugins"})
	v.SetDefault("codec", "")

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 4)

	v.SetDefault("encode.bitrate", 2.25)
	v.SetDefault("encode.ppi", -1)
	v.SetDefault("decode.max_pixels", 1<<26)
	v.SetDefault("metrics.enabled", false)

	v.SetEnvPrefix("wsq")
	// wasm.max_instances is read from WSQ_WASM_MAX_INSTANCES.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config '%s': %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings no codec call could succeed with.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.Wasm.MemoryPages == 0 || c.Wasm.MemoryPages > 65536 {
		return fmt.Errorf("invalid wasm.memory_pages %d (must be 1-65536)", c.Wasm.MemoryPages)
	}
	if c.Wasm.MaxInstances < 1 {
		return fmt.Errorf("invalid wasm.max_instances %d (must be at least 1)", c.Wasm.MaxInstances)
	}
	if !(c.Encode.Bitrate > 0) {
		return fmt.Errorf("invalid encode.bitrate %v (must be positive)", c.Encode.Bitrate)
	}
	if c.Encode.PPI < -1 {
		return fmt.Errorf("invalid encode.ppi %d (must be -1 or positive)", c.Encode.PPI)
	}
	if c.Decode.MaxPixels < 1 {
		return fmt.Errorf("invalid decode.max_pixels %d (must be positive)", c.Decode.MaxPixels)
	}
	return nil
}
