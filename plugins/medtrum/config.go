package medtrum

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/gohome-medtrum/internal/config"
)

const (
	defaultRefreshInterval = 5 * time.Minute
	minRefreshInterval     = time.Minute
)

// Config defines runtime configuration for the Medtrum plugin.
type Config struct {
	Username        string
	Password        string
	Region          string
	BaseURL         string
	RefreshInterval time.Duration

	// Secret locations, kept so Reauthenticate can pick up rotated passwords.
	passwordInline string
	passwordFile   string

	MQTT *MQTTConfig
}

// MQTTConfig configures the Home Assistant publisher.
type MQTTConfig struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	DiscoveryPrefix string
	TopicPrefix     string
}

func ConfigFromFile(cfg *config.MedtrumConfig, mqttCfg *config.MQTTConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("medtrum config is required")
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return Config{}, fmt.Errorf("medtrum username is required")
	}

	password, err := config.ReadSecret(cfg.Password, cfg.PasswordFile)
	if err != nil {
		return Config{}, fmt.Errorf("medtrum password: %w", err)
	}
	if password == "" {
		return Config{}, fmt.Errorf("medtrum password is required")
	}

	interval := time.Duration(cfg.RefreshIntervalSeconds) * time.Second
	if interval == 0 {
		interval = defaultRefreshInterval
	}
	if interval < minRefreshInterval {
		return Config{}, fmt.Errorf("medtrum refresh interval must be at least %s", minRefreshInterval)
	}

	out := Config{
		Username:        strings.TrimSpace(cfg.Username),
		Password:        password,
		Region:          cfg.Region,
		BaseURL:         strings.TrimSpace(cfg.BaseURL),
		RefreshInterval: interval,
		passwordInline:  cfg.Password,
		passwordFile:    cfg.PasswordFile,
	}

	if mqttCfg != nil {
		mqttPassword, err := config.ReadSecret(mqttCfg.Password, mqttCfg.PasswordFile)
		if err != nil {
			return Config{}, fmt.Errorf("mqtt password: %w", err)
		}
		out.MQTT = &MQTTConfig{
			Broker:          mqttCfg.Broker,
			Username:        mqttCfg.Username,
			Password:        mqttPassword,
			ClientID:        mqttCfg.ClientID,
			DiscoveryPrefix: mqttCfg.DiscoveryPrefix,
			TopicPrefix:     mqttCfg.TopicPrefix,
		}
	}

	return out, nil
}

// reloadPassword re-reads the password source configured at startup.
func (c Config) reloadPassword() (string, error) {
	if c.passwordFile == "" {
		return c.Password, nil
	}
	return config.ReadSecret(c.passwordInline, c.passwordFile)
}
