package config

import (
	"github.com/ignitionstack/kvbridge/pkg/engine/config"
)

// Global configuration variables, bound to persistent flags by the root command
var (
	// ConfigPath is the path to the configuration file
	ConfigPath = config.DefaultConfigPath

	// LogLevel overrides log.level when set
	LogLevel string

	// Backend overrides store.backend when set
	Backend string
)

// Load reads the configuration file and applies flag overrides.
func Load() (*config.Config, error) {
	return load(false)
}

// LoadPersistent is Load for commands whose writes must outlive the process.
// A memory backend from the file or defaults becomes badger; only an explicit
// --backend memory keeps it.
func LoadPersistent() (*config.Config, error) {
	return load(true)
}

func load(persistent bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(ConfigPath)
	if err != nil {
		return nil, err
	}

	if LogLevel != "" {
		cfg.Log.Level = LogLevel
	}
	if Backend != "" {
		cfg.Store.Backend = Backend
	} else if persistent && cfg.Store.Backend == config.BackendMemory {
		cfg.Store.Backend = config.BackendBadger
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
