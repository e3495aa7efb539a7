package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/rc-loader/rcl"

	"github.com/spf13/viper"
)

// Config stores all configuration of the loader.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Loader     LoaderConfig     `mapstructure:"loader"`
	Device     DeviceConfig     `mapstructure:"device"`
	Dictionary DictionaryConfig `mapstructure:"dictionary"`
}

// LoaderConfig stores batching related settings.
type LoaderConfig struct {
	BatchSize int   `mapstructure:"batchSize"`
	Shuffle   bool  `mapstructure:"shuffle"`
	Seed      int64 `mapstructure:"seed"`
	Workers   int   `mapstructure:"workers"`
}

// DeviceConfig controls whether batches are placed on an accelerator.
type DeviceConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ExecutionProvider string `mapstructure:"executionProvider"`
	DeviceID          int    `mapstructure:"deviceID"`
}

// DictionaryConfig points at the vocabulary used to encode text.
type DictionaryConfig struct {
	VocabPath string `mapstructure:"vocabPath"`
	UnkToken  string `mapstructure:"unkToken"`
	MaxSeqLen int    `mapstructure:"maxSeqLen"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("loader.batchSize", internal.DefaultBatchSize)
	v.SetDefault("loader.shuffle", true)
	v.SetDefault("loader.seed", internal.DefaultSeed)
	v.SetDefault("loader.workers", internal.DefaultWorkers)

	v.SetDefault("device.enabled", false)
	v.SetDefault("device.executionProvider", internal.DefaultExecutionProvider)
	v.SetDefault("device.deviceID", internal.DefaultDeviceID)

	v.SetDefault("dictionary.vocabPath", internal.DefaultVocabPath)
	v.SetDefault("dictionary.unkToken", internal.DefaultUnkToken)
	v.SetDefault("dictionary.maxSeqLen", internal.DefaultMaxSeqLen)

	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // loader.batchSize becomes LOADER_BATCHSIZE

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment are used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.Loader.BatchSize <= 0 {
		return nil, fmt.Errorf("loader.batchSize must be positive, got %d", cfg.Loader.BatchSize)
	}

	AppConfig = cfg
	return &AppConfig, nil
}
