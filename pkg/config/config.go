// Package config provides loading of the scale connector configuration from file,
// environment and defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SENSSUN"

// Transport names
const (
	TransportGatt      = "gatt"
	TransportBluetooth = "bluetooth"
	TransportMock      = "mock"
)

// Config denotes the complete configuration
type Config struct {
	Address               string        `mapstructure:"address" yaml:"address"`
	Name                  string        `mapstructure:"name" yaml:"name"`
	Transport             string        `mapstructure:"transport" yaml:"transport"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	OverallConnectTimeout time.Duration `mapstructure:"overall_connect_timeout" yaml:"overall_connect_timeout"`
	IdleDisconnectDelay   time.Duration `mapstructure:"idle_disconnect_delay" yaml:"idle_disconnect_delay"`
	RetryInterval         time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	Listen                string        `mapstructure:"listen" yaml:"listen"`
	Log                   LogConfig     `mapstructure:"log" yaml:"log"`
}

// LogConfig denotes the logging configuration
type LogConfig struct {
	Debug      bool   `mapstructure:"debug" yaml:"debug"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
}

// Default returns a configuration populated with default values
func Default() *Config {
	return &Config{
		Name:                  "Senssun Body Scale Weight",
		Transport:             TransportGatt,
		ConnectTimeout:        10 * time.Second,
		OverallConnectTimeout: 20 * time.Second,
		IdleDisconnectDelay:   60 * time.Second,
		RetryInterval:         60 * time.Second,
		Log: LogConfig{
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// Load reads the configuration from the given file (if not empty) and the environment.
// Environment variables use the SENSSUN_ prefix, nested keys are joined by underscores
// (e.g. SENSSUN_LOG_DEBUG). Overrides (e.g. from command line flags) take precedence over
// both and use the dotted key names (e.g. "log.debug")
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, value := range overrides {
		v.Set(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportGatt, TransportBluetooth, TransportMock:
	default:
		return fmt.Errorf("unsupported transport `%s`", c.Transport)
	}

	if c.Address == "" && c.Transport != TransportMock {
		return errors.New("no device address configured")
	}

	for name, d := range map[string]time.Duration{
		"connect_timeout":         c.ConnectTimeout,
		"overall_connect_timeout": c.OverallConnectTimeout,
		"idle_disconnect_delay":   c.IdleDisconnectDelay,
		"retry_interval":          c.RetryInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.OverallConnectTimeout < c.ConnectTimeout {
		return fmt.Errorf("overall_connect_timeout (%v) is shorter than connect_timeout (%v)", c.OverallConnectTimeout, c.ConnectTimeout)
	}

	return nil
}

// YAML returns the configuration in its file representation
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// fileConfig is the file representation of Config, durations are rendered like "10s"
type fileConfig struct {
	Address               string    `yaml:"address"`
	Name                  string    `yaml:"name"`
	Transport             string    `yaml:"transport"`
	ConnectTimeout        string    `yaml:"connect_timeout"`
	OverallConnectTimeout string    `yaml:"overall_connect_timeout"`
	IdleDisconnectDelay   string    `yaml:"idle_disconnect_delay"`
	RetryInterval         string    `yaml:"retry_interval"`
	Listen                string    `yaml:"listen"`
	Log                   LogConfig `yaml:"log"`
}

// MarshalYAML implements yaml.Marshaler
func (c Config) MarshalYAML() (interface{}, error) {
	return fileConfig{
		Address:               c.Address,
		Name:                  c.Name,
		Transport:             c.Transport,
		ConnectTimeout:        c.ConnectTimeout.String(),
		OverallConnectTimeout: c.OverallConnectTimeout.String(),
		IdleDisconnectDelay:   c.IdleDisconnectDelay.String(),
		RetryInterval:         c.RetryInterval.String(),
		Listen:                c.Listen,
		Log:                   c.Log,
	}, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()

	// Every key needs a default, otherwise AutomaticEnv does not pick it up on Unmarshal
	v.SetDefault("address", def.Address)
	v.SetDefault("name", def.Name)
	v.SetDefault("transport", def.Transport)
	v.SetDefault("connect_timeout", def.ConnectTimeout)
	v.SetDefault("overall_connect_timeout", def.OverallConnectTimeout)
	v.SetDefault("idle_disconnect_delay", def.IdleDisconnectDelay)
	v.SetDefault("retry_interval", def.RetryInterval)
	v.SetDefault("listen", def.Listen)

	v.SetDefault("log.debug", def.Log.Debug)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size", def.Log.MaxSize)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age", def.Log.MaxAge)
}
