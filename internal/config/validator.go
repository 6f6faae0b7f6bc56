package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/energizer-project/rconnect/internal/rcon"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	names := make(map[string]bool, len(cfg.Servers))
	for i, p := range cfg.Servers {
		field := fmt.Sprintf("servers[%d]", i)
		ValidateProfile(p, field, result)

		key := strings.ToLower(p.Name)
		if names[key] {
			result.AddError(field+".name", fmt.Sprintf("duplicate server name %q", p.Name))
		}
		names[key] = true
	}

	validateGateway(&cfg.Gateway, result)
	validateMQTT(&cfg.MQTT, result)
	validateHealth(&cfg.Health, result)
	validateAlerts(&cfg.Alerts, result)

	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.Path) == "" {
		result.AddError("audit.path", "audit database path is required when enabled")
	}

	for i, s := range cfg.Schedules {
		field := fmt.Sprintf("schedules[%d]", i)
		if !names[strings.ToLower(s.Server)] {
			result.AddError(field+".server", fmt.Sprintf("unknown server %q", s.Server))
		}
		if strings.TrimSpace(s.Command) == "" {
			result.AddError(field+".command", "command is required")
		}
		if s.IntervalSec < 1 {
			result.AddError(field+".interval_sec", "interval must be at least 1 second")
		}
	}

	return result
}

// ValidateProfile checks a single server profile.
func ValidateProfile(p ServerProfile, field string, result *ValidationResult) {
	if strings.TrimSpace(p.Name) == "" {
		result.AddError(field+".name", "server name is required")
	} else if strings.ContainsAny(p.Name, "/#+ ") {
		result.AddError(field+".name", "server name must not contain spaces or any of / # +")
	}

	if strings.TrimSpace(p.Host) == "" {
		result.AddError(field+".host", "host is required")
	}
	validatePort(p.Port, field+".port", result)

	if _, err := rcon.Lookup(p.Game); err != nil {
		result.AddError(field+".game", fmt.Sprintf("unknown game %q (known: %s)", p.Game, strings.Join(rcon.Games(), ", ")))
	}

	if p.Password == "" {
		result.AddWarning(field+".password", "empty password, most servers will reject the login")
	}
	if p.TimeoutSec < 0 {
		result.AddError(field+".timeout_sec", "timeout must not be negative")
	}
	if p.MaxPending < 0 {
		result.AddError(field+".max_pending", "max pending must not be negative")
	}
}

func validateGateway(gw *GatewayConfig, result *ValidationResult) {
	if !gw.Enabled {
		return
	}
	validatePort(gw.Port, "gateway.port", result)

	if gw.TLSEnabled && (gw.TLSCertFile == "") != (gw.TLSKeyFile == "") {
		result.AddError("gateway.tls_cert_file", "set both the TLS certificate and key, or neither to self-sign")
	}
	if gw.TLSCertFile != "" {
		if _, err := os.Stat(gw.TLSCertFile); os.IsNotExist(err) {
			result.AddWarning("gateway.tls_cert_file",
				fmt.Sprintf("certificate does not exist yet: %s", gw.TLSCertFile))
		}
	}

	if gw.Token == "" && gw.Host != "127.0.0.1" && gw.Host != "localhost" {
		result.AddWarning("gateway.token",
			"gateway listens beyond loopback without a token, anyone reaching it can run commands")
	}
	if gw.RateLimitRPS < 1 {
		result.AddWarning("gateway.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	for _, ip := range gw.IPWhitelist {
		if net.ParseIP(ip) == nil {
			if _, _, err := net.ParseCIDR(ip); err != nil {
				result.AddError("gateway.ip_whitelist", fmt.Sprintf("invalid IP or CIDR %q", ip))
			}
		}
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if strings.ContainsAny(m.TopicPrefix, "#+") {
		result.AddError("mqtt.topic_prefix", "topic prefix must not contain wildcards")
	}
}

func validateAlerts(a *AlertsConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	u, err := url.Parse(a.WebhookURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		result.AddError("alerts.webhook_url", "a valid http(s) webhook URL is required when enabled")
		return
	}
	if u.Scheme == "http" {
		result.AddWarning("alerts.webhook_url", "webhook URL is not using https")
	}
}

func validateHealth(h *HealthConfig, result *ValidationResult) {
	if !h.Enabled {
		return
	}
	if h.IntervalSec < 5 {
		result.AddWarning("health.interval_sec",
			"probe interval less than 5s may flood the servers with commands")
	}
	if h.MaxFailures < 1 {
		result.AddError("health.max_failures", "must tolerate at least 1 failure")
	}
	if h.MaxBackoffSec < h.BackoffSec {
		result.AddError("health.max_backoff_sec", "max backoff must not be below the initial backoff")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a TCP port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
