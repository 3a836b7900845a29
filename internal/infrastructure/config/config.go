package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Lutron bridge service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Health    HealthConfig    `yaml:"health"`
	Bridges   []BridgeConfig  `yaml:"bridges"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains API token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // Minutes
}

// HealthConfig contains bridge health reporting settings.
type HealthConfig struct {
	// Interval is the health publish period in seconds.
	Interval int `yaml:"interval"`
}

// BridgeConfig describes one Lutron hub.
type BridgeConfig struct {
	ID       string `yaml:"id"`
	Protocol string `yaml:"protocol"` // "lip" or "leap"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`

	// LIP Telnet credentials. Default to the factory integration login.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// LEAP client identity, as a PKCS#12 keystore or PEM files.
	Keystore         string `yaml:"keystore"`
	KeystorePassword string `yaml:"keystore_password"`
	CertFile         string `yaml:"cert_file"`
	KeyFile          string `yaml:"key_file"`
	CAFile           string `yaml:"ca_file"`
	CertValidate     bool   `yaml:"cert_validate"`

	ReconnectInterval int `yaml:"reconnect_interval"` // Minutes
	HeartbeatInterval int `yaml:"heartbeat_interval"` // Minutes
	KeepaliveTimeout  int `yaml:"keepalive_timeout"`  // Seconds
	ConnectTimeout    int `yaml:"connect_timeout"`    // Seconds
	CommandDelay      int `yaml:"command_delay"`      // Milliseconds

	// Monitoring lists LIP monitoring classes; nil selects the defaults.
	Monitoring        []int `yaml:"monitoring"`
	MaxQueuedCommands int   `yaml:"max_queued_commands"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Service-wide variables follow the pattern GRAYLOGIC_SECTION_KEY, for
// example GRAYLOGIC_DATABASE_PATH. Per-bridge variables follow
// LUTRON_BRIDGE_<ID>_KEY, for example LUTRON_BRIDGE_MAIN_HUB_PASSWORD.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/lutron.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-lutron",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8091,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{AccessTokenTTL: 60},
		},
		Health: HealthConfig{Interval: 30},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Bridges - hub credentials are kept out of the file where possible
	for i := range cfg.Bridges {
		b := &cfg.Bridges[i]
		prefix := BridgeEnvPrefix(b.ID)
		if v := os.Getenv(prefix + "HOST"); v != "" {
			b.Host = v
		}
		if v := os.Getenv(prefix + "USERNAME"); v != "" {
			b.Username = v
		}
		if v := os.Getenv(prefix + "PASSWORD"); v != "" {
			b.Password = v
		}
		if v := os.Getenv(prefix + "KEYSTORE_PASSWORD"); v != "" {
			b.KeystorePassword = v
		}
	}
}

// BridgeEnvPrefix returns the environment variable prefix for a bridge id:
// "main-hub" becomes "LUTRON_BRIDGE_MAIN_HUB_".
func BridgeEnvPrefix(id string) string {
	upper := strings.ToUpper(id)
	upper = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
	return "LUTRON_BRIDGE_" + upper + "_"
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The API is never served without token authentication.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when the API is enabled (set GRAYLOGIC_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(c.Bridges) == 0 {
		errs = append(errs, "at least one bridge is required")
	}
	var seen []string
	for i, b := range c.Bridges {
		name := fmt.Sprintf("bridges[%d]", i)
		if b.ID == "" {
			errs = append(errs, name+".id is required")
		} else if slices.Contains(seen, b.ID) {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", name, b.ID))
		} else {
			seen = append(seen, b.ID)
		}
		if b.Host == "" {
			errs = append(errs, name+".host is required")
		}
		switch b.Protocol {
		case "", "lip", "leap":
		default:
			errs = append(errs, name+`.protocol must be "lip" or "leap"`)
		}
		if b.Port < 0 || b.Port > 65535 {
			errs = append(errs, name+".port must be between 1 and 65535")
		}
		if b.ReconnectInterval < 0 || b.HeartbeatInterval < 0 || b.KeepaliveTimeout < 0 ||
			b.ConnectTimeout < 0 || b.CommandDelay < 0 {
			errs = append(errs, name+" intervals must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Bridge returns the configuration for a bridge id.
func (c *Config) Bridge(id string) (BridgeConfig, bool) {
	for _, b := range c.Bridges {
		if b.ID == id {
			return b, true
		}
	}
	return BridgeConfig{}, false
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetHealthInterval returns the health publish period as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Health.Interval) * time.Second
}

// GetTokenTTL returns the API access token lifetime as a Duration.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// Timings converts the bridge's configured units into durations. Zero
// values stay zero so the bridge applies its own defaults.
func (b BridgeConfig) Timings() (reconnect, heartbeat, keepalive, connect, delay time.Duration) {
	return time.Duration(b.ReconnectInterval) * time.Minute,
		time.Duration(b.HeartbeatInterval) * time.Minute,
		time.Duration(b.KeepaliveTimeout) * time.Second,
		time.Duration(b.ConnectTimeout) * time.Second,
		time.Duration(b.CommandDelay) * time.Millisecond
}
