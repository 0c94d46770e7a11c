// Package config loads the layered application configuration: built-in
// defaults, then an optional TOML file, then RIDEDESK_ environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration.
type Config struct {
	Server struct {
		Host string `koanf:"host"`
		Port int    `koanf:"port"`
	} `koanf:"server"`

	Log struct {
		Level  string `koanf:"level"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`

	Database struct {
		// URL is the Postgres connection string. Empty selects the
		// in-memory stores and disables the delivery job queue.
		URL string `koanf:"url"`
	} `koanf:"database"`

	Broker struct {
		// URL is the AMQP connection string. Empty disables broker fan-out.
		URL         string `koanf:"url"`
		QueuePrefix string `koanf:"queue_prefix"`
	} `koanf:"broker"`

	Webhook struct {
		// URL receives escalation events. Empty disables webhook fan-out.
		URL            string `koanf:"url"`
		AuthToken      string `koanf:"auth_token"`
		TimeoutSeconds int    `koanf:"timeout_seconds"`
	} `koanf:"webhook"`

	TripData struct {
		// BaseURL of the trip platform API. Empty selects the built-in
		// deterministic mock.
		BaseURL        string `koanf:"base_url"`
		TimeoutSeconds int    `koanf:"timeout_seconds"`
	} `koanf:"tripdata"`

	Auth struct {
		JWTSecret     string `koanf:"jwt_secret"`
		TokenTTLHours int    `koanf:"token_ttl_hours"`
	} `koanf:"auth"`

	Chat struct {
		LateEtaMinutes     int     `koanf:"late_eta_minutes"`
		CancelGraceSeconds int     `koanf:"cancel_grace_seconds"`
		MaxContactAttempts int     `koanf:"max_contact_attempts"`
		ConfidenceFloor    float64 `koanf:"confidence_floor"`
		EscalationFloor    float64 `koanf:"escalation_floor"`
		FetchTimeoutMs     int     `koanf:"fetch_timeout_ms"`
	} `koanf:"chat"`

	RateLimit struct {
		PerUserRPS float64 `koanf:"per_user_rps"`
		Burst      int     `koanf:"burst"`
	} `koanf:"ratelimit"`
}

// LoadConfig loads the configuration from defaults, an optional file and the
// environment.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"server.host":               "0.0.0.0",
		"server.port":               8080,
		"log.level":                 "info",
		"log.pretty":                false,
		"broker.queue_prefix":       "ridedesk",
		"webhook.timeout_seconds":   5,
		"tripdata.timeout_seconds":  3,
		"auth.token_ttl_hours":      12,
		"chat.late_eta_minutes":     15,
		"chat.cancel_grace_seconds": 120,
		"chat.max_contact_attempts": 3,
		"chat.confidence_floor":     0.5,
		"chat.escalation_floor":     0.4,
		"chat.fetch_timeout_ms":     3000,
		"ratelimit.per_user_rps":    5.0,
		"ratelimit.burst":           10,
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./ridedesk.toml", "$HOME/.ridedesk.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("RIDEDESK_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RIDEDESK_")), "_", ".", 1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig writes a sample configuration file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# RideDesk Configuration

[server]
host = "0.0.0.0"
port = 8080

[log]
level = "info"
pretty = true

[database]
# Leave empty to run with in-memory stores.
url = ""

[broker]
url = ""
queue_prefix = "ridedesk"

[webhook]
url = ""
auth_token = ""

[tripdata]
# Leave empty to use the built-in deterministic mock.
base_url = ""
timeout_seconds = 3

[auth]
jwt_secret = "change-me"
token_ttl_hours = 12

[chat]
late_eta_minutes = 15
cancel_grace_seconds = 120
max_contact_attempts = 3
confidence_floor = 0.5
escalation_floor = 0.4
fetch_timeout_ms = 3000

[ratelimit]
per_user_rps = 5.0
burst = 10
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate checks the configuration for values that would break startup.
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", config.Server.Port)
	}
	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	if config.Chat.MaxContactAttempts < 1 {
		return fmt.Errorf("chat max_contact_attempts must be at least 1")
	}
	if config.Chat.ConfidenceFloor < 0 || config.Chat.ConfidenceFloor > 1 {
		return fmt.Errorf("chat confidence_floor must be in [0, 1]")
	}
	if config.Chat.EscalationFloor < 0 || config.Chat.EscalationFloor > config.Chat.ConfidenceFloor {
		return fmt.Errorf("chat escalation_floor must be in [0, confidence_floor]")
	}
	return nil
}

// CancelGracePeriod returns the cancellation grace period as a duration.
func (c *Config) CancelGracePeriod() time.Duration {
	return time.Duration(c.Chat.CancelGraceSeconds) * time.Second
}

// FetchTimeout returns the trip context fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Chat.FetchTimeoutMs) * time.Millisecond
}

// TokenTTL returns the agent token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}
