// Package config handles configuration loading and management for devlink.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "5s", "250ms".
type Duration time.Duration

// UnmarshalYAML parses a duration from a YAML string or integer (nanoseconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PortsConfig defines the shared loopback port range used for discovery
// and leader election. The server binds the first free port in
// [Base, Base+Count), and clients probe every port in the same range.
type PortsConfig struct {
	Base  int `yaml:"base"`
	Count int `yaml:"count"`
}

// Range returns all candidate ports in order.
func (p PortsConfig) Range() []int {
	ports := make([]int, p.Count)
	for i := range ports {
		ports[i] = p.Base + i
	}
	return ports
}

// ClientConfig tunes the connection supervisor and request router.
type ClientConfig struct {
	// ConnectAttempts is the number of discovery attempts before the
	// supervisor surfaces failed_max_retries.
	ConnectAttempts int `yaml:"connect_attempts"`
	// RetryDelay is the fixed delay between discovery attempts.
	RetryDelay Duration `yaml:"retry_delay"`
	// DialTimeout bounds a single port probe.
	DialTimeout Duration `yaml:"dial_timeout"`
	// RequestTimeout is the per-request deadline, independent of
	// connection-level retries.
	RequestTimeout Duration `yaml:"request_timeout"`
}

// CoordinatorConfig tunes the multi-window coordinator.
type CoordinatorConfig struct {
	// AggregationTimeout bounds how long the Primary waits for Secondary
	// contributions before merging what it has.
	AggregationTimeout Duration `yaml:"aggregation_timeout"`
	// MaxSecondaries caps concurrent Secondary registrations.
	MaxSecondaries int `yaml:"max_secondaries"`
}

// ServerConfig tunes the listening side of a window process.
type ServerConfig struct {
	// AuthToken is the shared token checked by the auth command.
	// Empty means connections are authenticated implicitly.
	AuthToken string `yaml:"auth_token"`
	// MaxMessageSize is the maximum WebSocket frame size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
	// MaxConnectionsPerIP caps concurrent sockets per remote IP.
	MaxConnectionsPerIP int `yaml:"max_connections_per_ip"`
	// RateLimitPerSecond caps connection attempts per IP per second.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	// RateLimitBurst is the burst allowance for the connection limiter.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// WorkspaceConfig describes the workspace a window process serves.
type WorkspaceConfig struct {
	// Root is the workspace root directory. Empty means no workspace open.
	Root string `yaml:"root"`
	// Trusted marks the workspace as trusted. Untrusted workspaces refuse
	// workspace commands.
	Trusted bool `yaml:"trusted"`
}

// LogConfig mirrors the logging package configuration.
type LogConfig struct {
	Level      string   `yaml:"level"`
	File       string   `yaml:"file"`
	JSON       bool     `yaml:"json"`
	Components []string `yaml:"components"`
}

// Config is the complete devlink configuration.
type Config struct {
	Ports       PortsConfig       `yaml:"ports"`
	Client      ClientConfig      `yaml:"client"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Server      ServerConfig      `yaml:"server"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Ports: PortsConfig{Base: 19100, Count: 5},
		Client: ClientConfig{
			ConnectAttempts: 5,
			RetryDelay:      Duration(1 * time.Second),
			DialTimeout:     Duration(2 * time.Second),
			RequestTimeout:  Duration(10 * time.Second),
		},
		Coordinator: CoordinatorConfig{
			AggregationTimeout: Duration(5 * time.Second),
			MaxSecondaries:     16,
		},
		Server: ServerConfig{
			MaxMessageSize:      64 * 1024,
			MaxConnectionsPerIP: 32,
			RateLimitPerSecond:  20,
			RateLimitBurst:      40,
		},
		Workspace: WorkspaceConfig{Trusted: true},
		Log:       LogConfig{Level: "info"},
	}
}

// DefaultConfigPath returns the default configuration file path for the
// current platform. The DEVLINKRC environment variable overrides it.
func DefaultConfigPath() string {
	if envPath := os.Getenv("DEVLINKRC"); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		configDir = home
	default: // linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = home
		}
	}

	return filepath.Join(configDir, ".devlinkrc")
}

// Load reads and parses the configuration file from the given path.
// Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config from path if it exists, otherwise returns
// defaults. A malformed file is still an error.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks invariants that would break discovery or aggregation.
func (c *Config) Validate() error {
	if c.Ports.Base <= 0 || c.Ports.Base > 65535 {
		return fmt.Errorf("ports.base %d out of range", c.Ports.Base)
	}
	if c.Ports.Count <= 0 || c.Ports.Base+c.Ports.Count-1 > 65535 {
		return fmt.Errorf("ports.count %d out of range", c.Ports.Count)
	}
	if c.Client.ConnectAttempts <= 0 {
		return fmt.Errorf("client.connect_attempts must be positive")
	}
	if c.Client.RequestTimeout.Std() <= 0 {
		return fmt.Errorf("client.request_timeout must be positive")
	}
	if c.Coordinator.AggregationTimeout.Std() <= 0 {
		return fmt.Errorf("coordinator.aggregation_timeout must be positive")
	}
	if c.Coordinator.MaxSecondaries <= 0 {
		return fmt.Errorf("coordinator.max_secondaries must be positive")
	}
	return nil
}
