package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/ignitionstack/kvbridge/pkg/engine/resource"
	"github.com/ignitionstack/kvbridge/pkg/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Configuration constants
const (
	// DefaultConfigPath is the default path to the config file
	DefaultConfigPath = "~/.kvbridge/config.yaml"

	// EnvPrefix is the prefix for environment variables. Nested keys are
	// separated by a double underscore: KVBRIDGE_STORE__TIMEOUT=5s.
	EnvPrefix = "KVBRIDGE_"

	envSeparator = "__"

	// routingELBAlias is the spelling used by the routing tier's own
	// client configuration files.
	routingELBAlias = "user.routing-elb"
)

// Store backends
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRemote = "remote"
)

// Config holds all configuration for the bridge host
type Config struct {
	Threads ThreadsConfig `koanf:"threads"`
	User    UserConfig    `koanf:"user"`
	Store   StoreConfig   `koanf:"store"`
	Bridge  BridgeConfig  `koanf:"bridge"`
	Guest   GuestConfig   `koanf:"guest"`
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
}

// ThreadsConfig sizes the routing client
type ThreadsConfig struct {
	// Number of lanes opened per routing address
	Routing int `koanf:"routing" validate:"min=1"`
}

// UserConfig describes where the client runs and which routing nodes it talks to
type UserConfig struct {
	// Address of this host, reported in logs
	IP string `koanf:"ip"`

	// Load balancer in front of the routing tier. Takes precedence over Routing.
	// Files may also spell it routing-elb.
	RoutingELB string `koanf:"routing_elb"`

	// Routing node addresses (host:port)
	Routing []string `koanf:"routing"`
}

// StoreConfig selects and tunes the store session
type StoreConfig struct {
	// memory, badger or remote
	Backend string `koanf:"backend" validate:"oneof=memory badger remote"`

	// Badger directory. Empty means an in-memory database.
	Dir string `koanf:"dir"`

	// How long a blocking call waits for its response
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// Dial timeout for routing connections
	DialTimeout time.Duration `koanf:"dial_timeout" validate:"gt=0"`

	Poll    PollConfig    `koanf:"poll"`
	Breaker BreakerConfig `koanf:"breaker"`
}

// PollConfig bounds the backoff between empty polls
type PollConfig struct {
	MinBackoff time.Duration `koanf:"min_backoff" validate:"gt=0"`
	MaxBackoff time.Duration `koanf:"max_backoff" validate:"gtefield=MinBackoff"`
}

// BreakerConfig holds circuit breaker configuration for the routing client
type BreakerConfig struct {
	// Consecutive failures before the breaker opens. 0 disables it.
	FailureThreshold int `koanf:"failure_threshold" validate:"min=0"`

	// How long the breaker stays open before letting a trial request through
	ResetTimeout time.Duration `koanf:"reset_timeout"`
}

// BridgeConfig configures the host functions
type BridgeConfig struct {
	// Import module name guests link put and get from
	Module string `koanf:"module" validate:"required"`
}

// GuestConfig limits guest modules
type GuestConfig struct {
	// Maximum guest memory, e.g. "256MiB". Empty leaves the runtime default.
	MemoryLimit string `koanf:"memory_limit"`

	// Maximum duration of one run or call. 0 means no limit.
	Timeout time.Duration `koanf:"timeout" validate:"min=0"`
}

// ServerConfig configures `kvbridge serve`
type ServerConfig struct {
	// Address the store server listens on
	Listen string `koanf:"listen" validate:"required"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return &Config{
		Threads: ThreadsConfig{Routing: 1},
		User: UserConfig{
			IP:      "127.0.0.1",
			Routing: []string{"127.0.0.1:6450"},
		},
		Store: StoreConfig{
			Backend:     BackendMemory,
			Dir:         filepath.Join(homeDir, ".kvbridge", "store"),
			Timeout:     10 * time.Second,
			DialTimeout: 2 * time.Second,
			Poll: PollConfig{
				MinBackoff: 100 * time.Microsecond,
				MaxBackoff: 10 * time.Millisecond,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Bridge: BridgeConfig{Module: "env"},
		Guest:  GuestConfig{},
		Server: ServerConfig{Listen: "127.0.0.1:6450"},
		Log:    LogConfig{Level: "info"},
	}
}

// RoutingAddresses returns the addresses the remote client connects to.
func (c *Config) RoutingAddresses() []string {
	if c.User.RoutingELB != "" {
		return []string{c.User.RoutingELB}
	}
	return c.User.Routing
}

// Limits returns the guest resource limits.
func (c *Config) Limits() (resource.Limits, error) {
	mem, err := resource.ParseMemoryLimit(c.Guest.MemoryLimit)
	if err != nil {
		return resource.Limits{}, errors.Wrap(errors.DomainConfig, errors.CodeInvalidConfig, "invalid guest.memory_limit", err)
	}
	return resource.Limits{MemoryLimit: mem, MaxExecutionTime: c.Guest.Timeout}, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.DomainConfig, errors.CodeInvalidConfig, "invalid configuration", err)
	}
	if c.Store.Backend == BackendRemote && len(c.RoutingAddresses()) == 0 {
		return errors.New(errors.DomainConfig, errors.CodeInvalidConfig,
			"remote store needs user.routing_elb or user.routing")
	}
	if _, err := c.Limits(); err != nil {
		return err
	}
	return nil
}

// ExpandPath replaces a leading ~ with the home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

// LoadConfig loads defaults, then the file at configPath if it exists, then
// the environment, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(newStructProvider(DefaultConfig()), nil); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	expandedPath := ExpandPath(configPath)
	if _, err := os.Stat(expandedPath); err == nil {
		if err := k.Load(file.Provider(expandedPath), yaml.Parser()); err != nil {
			return nil, errors.Wrap(errors.DomainConfig, errors.CodeInvalidConfig, "failed to load config file", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if k.Exists(routingELBAlias) {
		if k.String("user.routing_elb") == "" {
			if err := k.Set("user.routing_elb", k.String(routingELBAlias)); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", routingELBAlias, err)
			}
		}
		k.Delete(routingELBAlias)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &config,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		},
	}); err != nil {
		return nil, errors.Wrap(errors.DomainConfig, errors.CodeInvalidConfig, "failed to unmarshal config", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// envKey maps KVBRIDGE_STORE__POLL__MIN_BACKOFF to store.poll.min_backoff.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), envSeparator, ".")
}

// ParseGuestConfig turns key=value pairs into the config map handed to
// plugins.
func ParseGuestConfig(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.New(errors.DomainConfig, errors.CodeInvalidConfig,
				fmt.Sprintf("expected key=value, got %q", pair))
		}
		out[key] = value
	}
	return out, nil
}

// structProvider is a provider that loads configuration from a struct
type structProvider struct {
	cfg interface{}
}

func newStructProvider(cfg interface{}) *structProvider {
	return &structProvider{cfg: cfg}
}

// Read reads the configuration from the struct
func (s *structProvider) Read() (map[string]interface{}, error) {
	var out map[string]interface{}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "koanf",
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(s.cfg); err != nil {
		return nil, err
	}

	return out, nil
}

// ReadBytes is required by the Provider interface but not used for struct providers
func (s *structProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not supported for struct provider")
}
