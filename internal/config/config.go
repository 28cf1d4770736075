package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion                 = 1
	DefaultPath                   = "/etc/gohome/config.yaml"
	DefaultGRPCAddr               = "0.0.0.0:9000"
	DefaultHTTPAddr               = "0.0.0.0:8080"
	DefaultDashboardDir           = "/var/lib/gohome/dashboards"
	DefaultLogLevel               = "info"
	DefaultMedtrumRegion          = "Global"
	DefaultRefreshIntervalSeconds = 300
	DefaultDiscoveryPrefix        = "homeassistant"
	DefaultTopicPrefix            = "gohome/medtrum"
)

// Config is the on-disk daemon configuration.
type Config struct {
	SchemaVersion int            `yaml:"schema_version" validate:"eq=1"`
	Core          *CoreConfig    `yaml:"core" validate:"required"`
	Log           *LogConfig     `yaml:"log" validate:"required"`
	Medtrum       *MedtrumConfig `yaml:"medtrum" validate:"omitempty"`
	MQTT          *MQTTConfig    `yaml:"mqtt" validate:"omitempty"`
}

type CoreConfig struct {
	GRPCAddr     string `yaml:"grpc_addr" validate:"required,hostname_port"`
	HTTPAddr     string `yaml:"http_addr" validate:"required,hostname_port"`
	DashboardDir string `yaml:"dashboard_dir"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// MedtrumConfig holds EasyView account settings. The password is read from
// PasswordFile when set, otherwise taken inline.
type MedtrumConfig struct {
	Username               string `yaml:"username" validate:"required"`
	Password               string `yaml:"password" validate:"required_without=PasswordFile"`
	PasswordFile           string `yaml:"password_file" validate:"required_without=Password"`
	Region                 string `yaml:"region"`
	BaseURL                string `yaml:"base_url" validate:"omitempty,url"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds" validate:"gte=60,lte=3600"`
}

// MQTTConfig enables Home Assistant publishing when present.
type MQTTConfig struct {
	Broker          string `yaml:"broker" validate:"required,url"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PasswordFile    string `yaml:"password_file"`
	ClientID        string `yaml:"client_id"`
	DiscoveryPrefix string `yaml:"discovery_prefix" validate:"required"`
	TopicPrefix     string `yaml:"topic_prefix" validate:"required"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}

	if cfg.Log == nil {
		cfg.Log = &LogConfig{}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if cfg.Medtrum != nil {
		if strings.TrimSpace(cfg.Medtrum.Region) == "" {
			cfg.Medtrum.Region = DefaultMedtrumRegion
		}
		if cfg.Medtrum.RefreshIntervalSeconds == 0 {
			cfg.Medtrum.RefreshIntervalSeconds = DefaultRefreshIntervalSeconds
		}
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.DiscoveryPrefix == "" {
			cfg.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultTopicPrefix
		}
		cfg.MQTT.TopicPrefix = strings.TrimRight(cfg.MQTT.TopicPrefix, "/")
	}
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Medtrum != nil {
		enabled["medtrum"] = true
	}
	return enabled
}

// ReadSecret reads a secret from a file, falling back to the inline value.
func ReadSecret(inline, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return inline, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret %s is empty", path)
	}
	return secret, nil
}
