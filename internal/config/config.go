// Package config handles configuration loading, validation, and persistence
// for rconnect: the RCON server profiles plus the settings of the gateway,
// telemetry, audit log and background jobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/events"
	"github.com/energizer-project/rconnect/internal/rcon"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultGatewayPort = 8080
	DefaultAuditPath   = "data/audit.db"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Servers   []ServerProfile `json:"servers"`
	Gateway   GatewayConfig   `json:"gateway"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Audit     AuditConfig     `json:"audit"`
	Logging   LoggingConfig   `json:"logging"`
	Health    HealthConfig    `json:"health"`
	Alerts    AlertsConfig    `json:"alerts"`
	Schedules []Schedule      `json:"schedules"`
}

// ServerProfile is one named RCON endpoint.
type ServerProfile struct {
	Name     string `json:"name"`
	Game     string `json:"game"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	Secure   bool   `json:"secure"`

	TimeoutSec   int `json:"timeout_sec"`
	KeepAliveSec int `json:"keep_alive_sec"`
	MaxPending   int `json:"max_pending"`
}

// Options converts the profile into client options publishing on bus.
func (p ServerProfile) Options(bus *events.EventBus) rcon.Options {
	return rcon.Options{
		Host:       p.Host,
		Port:       p.Port,
		Password:   p.Password,
		Game:       p.Game,
		Secure:     p.Secure,
		Timeout:    time.Duration(p.TimeoutSec) * time.Second,
		KeepAlive:  time.Duration(p.KeepAliveSec) * time.Second,
		MaxPending: p.MaxPending,
		Name:       p.Name,
		Bus:        bus,
	}
}

// GatewayConfig holds REST gateway settings.
type GatewayConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	// PublishPushes also forwards unsolicited server output, which can be chatty.
	PublishPushes bool `json:"publish_pushes"`
}

// AuditConfig holds command audit log settings.
type AuditConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	// PruneTime is the local HH:MM at which old rows are removed daily.
	PruneTime string `json:"prune_time"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// HealthConfig holds the session probe settings.
type HealthConfig struct {
	Enabled       bool `json:"enabled"`
	IntervalSec   int  `json:"interval_sec"`
	MaxFailures   int  `json:"max_failures"`
	BackoffSec    int  `json:"backoff_sec"`
	MaxBackoffSec int  `json:"max_backoff_sec"`
}

// AlertsConfig holds webhook notification settings. The webhook receives
// Discord-style embeds.
type AlertsConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
	// NotifyDisconnects also alerts when a session ends with an error.
	NotifyDisconnects bool `json:"notify_disconnects"`
}

// Schedule runs Command against Server every IntervalSec seconds.
type Schedule struct {
	Name        string `json:"name"`
	Server      string `json:"server"`
	Command     string `json:"command"`
	IntervalSec int    `json:"interval_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Servers: []ServerProfile{},
		Gateway: GatewayConfig{
			Enabled:      true,
			Host:         "127.0.0.1",
			Port:         DefaultGatewayPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        1883,
			TopicPrefix: "rcon",
		},
		Audit: AuditConfig{
			Enabled:       true,
			Path:          DefaultAuditPath,
			RetentionDays: 30,
			PruneTime:     "04:00",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Health: HealthConfig{
			Enabled:       true,
			IntervalSec:   60,
			MaxFailures:   3,
			BackoffSec:    5,
			MaxBackoffSec: 300,
		},
		Alerts: AlertsConfig{
			Enabled: false,
		},
		Schedules: []Schedule{},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().
		Str("path", configPath).
		Int("servers", len(cfg.Servers)).
		Msg("configuration loaded")

	// Re-save so config.json always carries every option the binary knows.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Profiles carry passwords.
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServers returns a copy of the server profiles.
func (c *Config) GetServers() []ServerProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ServerProfile, len(c.Servers))
	copy(out, c.Servers)
	return out
}

// Server looks a profile up by name, case-insensitively.
func (c *Config) Server(name string) (ServerProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.Servers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ServerProfile{}, false
}

// UpsertServer adds p or replaces the profile with the same name.
func (c *Config) UpsertServer(p ServerProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Servers {
		if strings.EqualFold(c.Servers[i].Name, p.Name) {
			c.Servers[i] = p
			return
		}
	}
	c.Servers = append(c.Servers, p)
}

// RemoveServer deletes the named profile and reports whether it existed.
func (c *Config) RemoveServer(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Servers {
		if strings.EqualFold(c.Servers[i].Name, name) {
			c.Servers = append(c.Servers[:i], c.Servers[i+1:]...)
			return true
		}
	}
	return false
}

// GetGateway returns a copy of the gateway configuration.
func (c *Config) GetGateway() GatewayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gateway
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetAudit returns a copy of the audit configuration.
func (c *Config) GetAudit() AuditConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audit
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// GetHealth returns a copy of the health configuration.
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// GetAlerts returns a copy of the alert settings.
func (c *Config) GetAlerts() AlertsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Alerts
}

// GetSchedules returns a copy of the schedules.
func (c *Config) GetSchedules() []Schedule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Schedule, len(c.Schedules))
	copy(out, c.Schedules)
	return out
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// IsFirstRun returns true if no server profile is configured yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Servers) == 0
}
