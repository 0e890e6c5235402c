// Package config loads daemon and CLI settings from defaults, a YAML file,
// CHRONOVAULT_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/celerix-dev/chronovault/internal/vault"
	"github.com/celerix-dev/chronovault/pkg/schema"
)

const (
	fileName  = "chronovault"
	envPrefix = "chronovault"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Vault    VaultConfig    `mapstructure:"vault" yaml:"vault"`
	Policy   PolicyConfig   `mapstructure:"policy" yaml:"policy"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper" yaml:"sweeper"`
	Contract ContractConfig `mapstructure:"contract" yaml:"contract"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	HTTPAddr    string   `mapstructure:"http_addr" yaml:"http_addr"`
	StoreAddr   string   `mapstructure:"store_addr" yaml:"store_addr"`
	DisableTLS  bool     `mapstructure:"disable_tls" yaml:"disable_tls"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// StorageConfig selects the persistence backend. Backend is one of file,
// sqlite, postgres or mysql. The daemon owns its store; it never runs on top
// of another daemon.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

type VaultConfig struct {
	// MasterKey is 64 hex characters. Empty leaves reference tags unsealed.
	MasterKey string `mapstructure:"master_key" yaml:"master_key"`
}

type PolicyConfig struct {
	CheckInterval       time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold" yaml:"inactivity_threshold"`
	UrgentThreshold     time.Duration `mapstructure:"urgent_threshold" yaml:"urgent_threshold"`
	QuorumThreshold     int           `mapstructure:"quorum_threshold" yaml:"quorum_threshold"`
	ClampQuorum         bool          `mapstructure:"clamp_quorum" yaml:"clamp_quorum"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ContractConfig points the mirror at a relay. Without RelayURL verdicts
// are only logged.
type ContractConfig struct {
	RelayURL  string        `mapstructure:"relay_url" yaml:"relay_url"`
	QueueSize int           `mapstructure:"queue_size" yaml:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Defaults returns the built-in value of every key.
func Defaults() map[string]any {
	return map[string]any{
		"server.http_addr":            ":8080",
		"server.store_addr":           "127.0.0.1:7001",
		"server.disable_tls":          false,
		"server.cors_origins":         []string{"*"},
		"storage.backend":             "file",
		"storage.data_dir":            "./data",
		"storage.dsn":                 "",
		"vault.master_key":            "",
		"policy.check_interval":       24 * time.Hour,
		"policy.inactivity_threshold": 90 * 24 * time.Hour,
		"policy.urgent_threshold":     time.Hour,
		"policy.quorum_threshold":     3,
		"policy.clamp_quorum":         true,
		"sweeper.interval":            time.Minute,
		"contract.relay_url":          "",
		"contract.queue_size":         256,
		"contract.timeout":            10 * time.Second,
		"log.level":                   "info",
		"log.format":                  "text",
	}
}

// GetConfigPath returns the user or system-wide location of chronovault.yaml.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Chronovault")
		default:
			configDir = "/etc/chronovault"
		}
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(dir, "chronovault")
	}
	return filepath.Join(configDir, fileName+".yaml"), nil
}

// LoadConfig resolves T from defaults, the first chronovault.yaml found (or
// path when set), the environment and the flags of cmd. A missing config
// file is not an error.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, path *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if path != nil && *path != "" {
		v.SetConfigFile(*path)
	}
	if userPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userPath))
	}
	if systemPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// WriteConfigFile writes c as YAML to path, creating its directory.
func WriteConfigFile[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	// 0600: the file may carry the master key.
	return os.WriteFile(path, data, 0o600)
}

// RegisterFlags adds the daemon flags to cmd. Flag names equal config keys
// so LoadConfig can bind them directly.
func RegisterFlags(cmd *cobra.Command) {
	d := Defaults()
	fs := cmd.Flags()
	fs.String("server.http_addr", d["server.http_addr"].(string), "HTTP API listen address")
	fs.String("server.store_addr", d["server.store_addr"].(string), "store protocol listen address")
	fs.Bool("server.disable_tls", false, "serve the store protocol without TLS")
	fs.String("storage.backend", d["storage.backend"].(string), "storage backend: file, sqlite, postgres or mysql")
	fs.String("storage.data_dir", d["storage.data_dir"].(string), "directory of the file backend")
	fs.String("storage.dsn", "", "connection string of the SQL backends")
	fs.String("log.level", d["log.level"].(string), "log level: debug, info, warn or error")
	fs.String("log.format", d["log.format"].(string), "log format: text, json or logfmt")
}

// Validate checks the settings the daemon cannot start without.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "file":
		if c.Storage.DataDir == "" {
			return errors.New("storage.data_dir is required for the file backend")
		}
	case "sqlite", "postgres", "mysql":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Sweeper.Interval <= 0 {
		return errors.New("sweeper.interval must be positive")
	}
	if _, err := c.MasterKey(); err != nil {
		return err
	}
	return c.PolicyDefaults().Validate()
}

// MasterKey decodes vault.master_key. Nil means sealing is off.
func (c Config) MasterKey() ([]byte, error) {
	if c.Vault.MasterKey == "" {
		return nil, nil
	}
	return vault.ParseKey(c.Vault.MasterKey)
}

// PolicyDefaults returns the process-wide policy.
func (c Config) PolicyDefaults() schema.Policy {
	return schema.Policy{
		CheckInterval:       c.Policy.CheckInterval,
		InactivityThreshold: c.Policy.InactivityThreshold,
		UrgentThreshold:     c.Policy.UrgentThreshold,
		QuorumThreshold:     c.Policy.QuorumThreshold,
		ClampQuorum:         c.Policy.ClampQuorum,
	}
}
