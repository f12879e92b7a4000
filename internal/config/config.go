// Package config loads pagecraft settings with Viper from .pagecraft.yml,
// PAGECRAFT_ environment variables and command-line flags.
//
// Sections: server (listen address and allowed websocket origins), sync
// (heartbeats, replay and resync limits, reconnect backoff), storage
// (snapshot database and flush schedule), templates (element template
// library) and log.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full pagecraft configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Templates TemplatesConfig `yaml:"templates" mapstructure:"templates"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace" mapstructure:"shutdown_grace"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type SyncConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`
	MaxReplayGap      uint64        `yaml:"max_replay_gap" mapstructure:"max_replay_gap"`
	JournalSize       int           `yaml:"journal_size" mapstructure:"journal_size"`
	SendBuffer        int           `yaml:"send_buffer" mapstructure:"send_buffer"`
	ResyncWindow      time.Duration `yaml:"resync_window" mapstructure:"resync_window"`
	ResyncAttempts    int           `yaml:"resync_attempts" mapstructure:"resync_attempts"`
	Backoff           BackoffConfig `yaml:"backoff" mapstructure:"backoff"`
}

type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	Jitter     float64       `yaml:"jitter" mapstructure:"jitter"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver        string `yaml:"driver" mapstructure:"driver"`
	Path          string `yaml:"path" mapstructure:"path"`
	FlushSchedule string `yaml:"flush_schedule" mapstructure:"flush_schedule"`
}

type TemplatesConfig struct {
	Dir   string `yaml:"dir" mapstructure:"dir"`
	Watch bool   `yaml:"watch" mapstructure:"watch"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SetDefaults registers the default of every key on v, so that
// environment variables can override keys no file mentions.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_grace", 10*time.Second)

	v.SetDefault("sync.heartbeat_interval", 10*time.Second)
	v.SetDefault("sync.heartbeat_timeout", 30*time.Second)
	v.SetDefault("sync.max_replay_gap", 256)
	v.SetDefault("sync.journal_size", 1024)
	v.SetDefault("sync.send_buffer", 256)
	v.SetDefault("sync.resync_window", 5*time.Second)
	v.SetDefault("sync.resync_attempts", 5)
	v.SetDefault("sync.backoff.initial", 500*time.Millisecond)
	v.SetDefault("sync.backoff.max", 30*time.Second)
	v.SetDefault("sync.backoff.multiplier", 2.0)
	v.SetDefault("sync.backoff.max_retries", 10)
	v.SetDefault("sync.backoff.jitter", 0.3)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", ".pagecraft/pages.db")
	v.SetDefault("storage.flush_schedule", "@every 30s")

	v.SetDefault("templates.dir", "templates")
	v.SetDefault("templates.watch", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration from the global Viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	// Viper does not split comma-separated env values into slices.
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	result := ValidateConfigWithDetails(&config)
	if result.HasErrors() {
		return nil, fmt.Errorf("invalid configuration:\n%s", result.String())
	}
	return &config, nil
}
