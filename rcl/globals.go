package internal

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// DefaultConfigPath is the default path to the config file
	DefaultAppName          = "rcl"
	DefaultConfigPath       = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultGlobalConfigFile = filepath.Join(DefaultConfigPath, "config.yaml")

	// Default loader settings
	DefaultBatchSize = 32
	DefaultWorkers   = 4
	DefaultSeed      = int64(0) // 0 means seed from time

	// Default device settings
	DefaultExecutionProvider = "cuda"
	DefaultDeviceID          = 0

	// Default dictionary settings
	DefaultVocabPath = "vocab.txt"
	DefaultUnkToken  = "[UNK]"
	DefaultMaxSeqLen = 512
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current working directory if home directory is unavailable
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
