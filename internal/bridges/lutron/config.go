package lutron

import (
	"encoding/json"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Default intervals and timeouts.
const (
	// defaultReconnectInterval is the fixed delay before retrying a failed connect.
	defaultReconnectInterval = 5 * time.Minute

	// defaultHeartbeatInterval is how often an idle online session is probed.
	defaultHeartbeatInterval = 5 * time.Minute

	// defaultKeepaliveTimeout is how long a probe may go unanswered.
	defaultKeepaliveTimeout = 30 * time.Second

	// defaultConnectTimeout bounds dial plus login.
	defaultConnectTimeout = 10 * time.Second
)

// defaultMonitoring enables the LIP monitoring classes device handlers rely on.
var defaultMonitoring = []int{MonitorButton, MonitorLED, MonitorZone, MonitorOccupancy, MonitorScene, MonitorSysvar}

// Config describes one hub connection. A Config is copied into each
// session and never mutated while the session runs.
type Config struct {
	// ID names the bridge in logs, metrics and MQTT topics.
	ID string

	Protocol Protocol
	Host     string
	Port     int

	// Username and Password are the LIP Telnet credentials.
	Username string
	Password string

	// Keystore is a PKCS#12 file holding the LEAP client identity and,
	// optionally, the hub CA. It takes precedence over the PEM files.
	Keystore         string
	KeystorePassword string

	// CertFile, KeyFile and CAFile are PEM alternatives to Keystore.
	CertFile string
	KeyFile  string
	CAFile   string

	// CertValidate enables verification of the hub certificate.
	CertValidate bool

	ReconnectInterval time.Duration
	HeartbeatInterval time.Duration
	KeepaliveTimeout  time.Duration
	ConnectTimeout    time.Duration

	// CommandDelay is slept after each command write. Some hubs drop
	// commands that arrive back to back.
	CommandDelay time.Duration

	// Monitoring lists the LIP monitoring classes to enable on connect.
	Monitoring []int

	// MaxQueuedCommands bounds commands held while offline.
	MaxQueuedCommands int
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.Protocol == "" {
		c.Protocol = ProtocolLIP
	}
	if c.Port == 0 {
		switch c.Protocol {
		case ProtocolLEAP:
			c.Port = DefaultLEAPPort
		default:
			c.Port = DefaultLIPPort
		}
	}
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaultKeepaliveTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.Monitoring == nil {
		c.Monitoring = slices.Clone(defaultMonitoring)
	}
	if c.MaxQueuedCommands == 0 {
		c.MaxQueuedCommands = defaultMaxQueuedCommands
	}
	return c
}

// Validate checks c after defaults are applied. All problems are reported
// together, wrapped in ErrConfiguration.
func (c Config) Validate() error {
	var errs []string

	if c.ID == "" {
		errs = append(errs, "id is required")
	}
	if c.Protocol != ProtocolLIP && c.Protocol != ProtocolLEAP {
		errs = append(errs, fmt.Sprintf("protocol must be %q or %q", ProtocolLIP, ProtocolLEAP))
	}
	if c.Host == "" {
		errs = append(errs, "host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if c.Protocol == ProtocolLEAP && c.Keystore == "" && c.CertFile == "" {
		errs = append(errs, "leap requires keystore or cert_file")
	}
	if c.CertFile != "" && c.KeyFile == "" {
		errs = append(errs, "cert_file requires key_file")
	}
	if c.ReconnectInterval < 0 || c.HeartbeatInterval < 0 || c.KeepaliveTimeout < 0 || c.ConnectTimeout < 0 {
		errs = append(errs, "intervals must not be negative")
	}
	if c.HeartbeatInterval > 0 && c.KeepaliveTimeout >= c.HeartbeatInterval {
		errs = append(errs, "keepalive_timeout must be shorter than heartbeat_interval")
	}
	if c.CommandDelay < 0 {
		errs = append(errs, "command_delay must not be negative")
	}
	if c.MaxQueuedCommands < 0 {
		errs = append(errs, "max_queued_commands must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(errs, "; "))
	}
	return nil
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// connectionChanged reports whether switching from c to next requires a
// new session.
func (c Config) connectionChanged(next Config) bool {
	return c.Protocol != next.Protocol ||
		c.Host != next.Host ||
		c.Port != next.Port ||
		c.Username != next.Username ||
		c.Password != next.Password ||
		c.Keystore != next.Keystore ||
		c.KeystorePassword != next.KeystorePassword ||
		c.CertFile != next.CertFile ||
		c.KeyFile != next.KeyFile ||
		c.CAFile != next.CAFile ||
		c.CertValidate != next.CertValidate ||
		c.ConnectTimeout != next.ConnectTimeout ||
		!slices.Equal(c.Monitoring, next.Monitoring)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// String implements fmt.Stringer with secrets redacted.
func (c Config) String() string {
	return fmt.Sprintf("Config{ID:%s Protocol:%s Address:%s Username:%s Password:%s Keystore:%s KeystorePassword:%s CertValidate:%t}",
		c.ID, c.Protocol, c.Address(), c.Username, redact(c.Password), c.Keystore, redact(c.KeystorePassword), c.CertValidate)
}

// MarshalJSON implements json.Marshaler with secrets redacted.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.Password = redact(a.Password)
	a.KeystorePassword = redact(a.KeystorePassword)
	return json.Marshal(a)
}
