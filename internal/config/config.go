package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/embedgen/")
	viper.AddConfigPath("$HOME/.embedgen/")

	// Environment variable overrides
	viper.SetEnvPrefix("EMBEDGEN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the loaded configuration
func Validate(config *Config) error {
	if config.Engine.Type != "hash" && config.Engine.Type != "onnx" {
		return fmt.Errorf("invalid engine type: %s (must be hash or onnx)", config.Engine.Type)
	}

	if config.Engine.Type == "onnx" && config.Engine.ModelPath == "" {
		return fmt.Errorf("engine model_path is required for the onnx engine")
	}

	if config.Engine.EmbeddingSize <= 0 {
		return fmt.Errorf("invalid embedding size: %d", config.Engine.EmbeddingSize)
	}

	if config.Pipeline.BatchCapacity <= 0 {
		return fmt.Errorf("invalid batch capacity: %d", config.Pipeline.BatchCapacity)
	}

	// A sequence may span the whole context window, so the batch must be
	// able to hold at least one full-context sequence.
	if config.Engine.ContextSize > 0 && config.Pipeline.BatchCapacity < config.Engine.ContextSize {
		return fmt.Errorf("batch capacity %d is smaller than engine context size %d",
			config.Pipeline.BatchCapacity, config.Engine.ContextSize)
	}

	if config.Pipeline.Pooling != "pooled" && config.Pipeline.Pooling != "manual" {
		return fmt.Errorf("invalid pooling strategy: %s (must be pooled or manual)", config.Pipeline.Pooling)
	}

	if config.Pipeline.MissingPolicy != "skip" && config.Pipeline.MissingPolicy != "zero" {
		return fmt.Errorf("invalid missing policy: %s (must be skip or zero)", config.Pipeline.MissingPolicy)
	}

	if config.Output.SampleRows < 0 {
		return fmt.Errorf("invalid sample rows: %d", config.Output.SampleRows)
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.RateLimit.Enabled && config.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("invalid rate limit: %f requests per second", config.Server.RateLimit.RequestsPerSecond)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := Validate(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
