package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Timeout policies for unacknowledged deliveries.
const (
	TimeoutPolicyRetry    = "retry"
	TimeoutPolicyFallback = "fallback"
)

// Config is the root configuration structure for therapylink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Settings  SettingsConfig  `yaml:"settings"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig identifies the therapy device this link talks to.
type DeviceConfig struct {
	Serial string `yaml:"serial"`

	// MachineType selects the frame layout: "CPAP" or "BIPAP".
	MachineType string `yaml:"machine_type"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// CleanSession false asks the broker to keep subscriptions across
	// reconnects, so a resumed session needs no resubscribe.
	CleanSession bool `yaml:"clean_session"`

	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`

	Topics    MQTTTopicsConfig    `yaml:"topics"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Subscribe MQTTSubscribeConfig `yaml:"subscribe"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`

	// Mutual TLS material, as issued by AWS IoT and similar brokers.
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTopicsConfig names the device topics. Both may be the same topic.
type MQTTTopicsConfig struct {
	Data string `yaml:"data"`
	Ack  string `yaml:"ack"`
}

// MQTTReconnectConfig contains connection retry settings.
type MQTTReconnectConfig struct {
	// Delay is the fixed pause between connection attempts.
	Delay time.Duration `yaml:"delay"`

	// MaxDelay, when larger than Delay, switches to exponential backoff
	// from Delay up to MaxDelay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// MaxAttempts limits connection attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// MQTTSubscribeConfig contains subscription retry settings.
type MQTTSubscribeConfig struct {
	Attempts int           `yaml:"attempts"`
	Pause    time.Duration `yaml:"pause"`
}

// DeliveryConfig contains store-and-forward queue settings.
type DeliveryConfig struct {
	MailboxPath     string        `yaml:"mailbox_path"`
	AckTimeout      time.Duration `yaml:"ack_timeout"`
	PendingSendHold time.Duration `yaml:"pending_send_hold"`
	PollInterval    time.Duration `yaml:"poll_interval"`

	// TimeoutPolicy is "retry" (keep the head, dead-letter after
	// MaxAttempts) or "fallback" (drop the head on the first timeout).
	TimeoutPolicy string `yaml:"timeout_policy"`
	MaxAttempts   int    `yaml:"max_attempts"`
}

// SettingsConfig contains settings store and codec settings.
type SettingsConfig struct {
	Path string `yaml:"path"`

	// LayoutFile optionally replaces the built-in frame layouts.
	LayoutFile string `yaml:"layout_file"`

	// SyncOnStart enqueues the stored settings once at startup.
	SyncOnStart bool `yaml:"sync_on_start"`

	// ResendSuppression ignores an identical resubmission of a mode
	// within this window. 0 disables suppression.
	ResendSuppression time.Duration `yaml:"resend_suppression"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// APIConfig contains the local control API settings.
// The API is how a settings UI drives therapylink.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: THERAPYLINK_SECTION_KEY
// For example: THERAPYLINK_MQTT_HOST, THERAPYLINK_DEVICE_SERIAL
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
		Device: DeviceConfig{
			MachineType: "CPAP",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "therapylink",
			},
			QoS:            1,
			CleanSession:   false,
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 10 * time.Second,
			Topics: MQTTTopicsConfig{
				Data: "esp32/data1",
				Ack:  "esp32/data",
			},
			Reconnect: MQTTReconnectConfig{
				Delay: time.Second,
			},
			Subscribe: MQTTSubscribeConfig{
				Attempts: 3,
				Pause:    time.Second,
			},
		},
		Delivery: DeliveryConfig{
			MailboxPath:     "./data/pending_messages.json",
			AckTimeout:      10 * time.Second,
			PendingSendHold: 5 * time.Second,
			PollInterval:    500 * time.Millisecond,
			TimeoutPolicy:   TimeoutPolicyRetry,
			MaxAttempts:     3,
		},
		Settings: SettingsConfig{
			Path:              "./data/settings.json",
			ResendSuppression: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/therapylink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: THERAPYLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("THERAPYLINK_DEVICE_SERIAL"); v != "" {
		cfg.Device.Serial = v
	}
	if v := os.Getenv("THERAPYLINK_DEVICE_MACHINE_TYPE"); v != "" {
		cfg.Device.MachineType = v
	}

	// MQTT
	if v := os.Getenv("THERAPYLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("THERAPYLINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("THERAPYLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("THERAPYLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("THERAPYLINK_MQTT_CA_FILE"); v != "" {
		cfg.MQTT.Broker.CAFile = v
	}
	if v := os.Getenv("THERAPYLINK_MQTT_CERT_FILE"); v != "" {
		cfg.MQTT.Broker.CertFile = v
	}
	if v := os.Getenv("THERAPYLINK_MQTT_KEY_FILE"); v != "" {
		cfg.MQTT.Broker.KeyFile = v
	}

	// Storage
	if v := os.Getenv("THERAPYLINK_DELIVERY_MAILBOX_PATH"); v != "" {
		cfg.Delivery.MailboxPath = v
	}
	if v := os.Getenv("THERAPYLINK_SETTINGS_PATH"); v != "" {
		cfg.Settings.Path = v
	}
	if v := os.Getenv("THERAPYLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("THERAPYLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("THERAPYLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("THERAPYLINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("THERAPYLINK_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	switch strings.ToUpper(c.Device.MachineType) {
	case "CPAP", "BIPAP":
	default:
		errs = append(errs, "device.machine_type must be CPAP or BIPAP")
	}
	if strings.ContainsAny(c.Device.Serial, ",*#") {
		errs = append(errs, "device.serial must not contain ',', '*' or '#'")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if (c.MQTT.Broker.CertFile == "") != (c.MQTT.Broker.KeyFile == "") {
		errs = append(errs, "mqtt.broker.cert_file and mqtt.broker.key_file must be set together")
	}
	if c.MQTT.Topics.Data == "" || c.MQTT.Topics.Ack == "" {
		errs = append(errs, "mqtt.topics.data and mqtt.topics.ack are required")
	}
	if c.MQTT.Reconnect.Delay <= 0 {
		errs = append(errs, "mqtt.reconnect.delay must be positive")
	}
	if c.MQTT.Subscribe.Attempts < 1 {
		errs = append(errs, "mqtt.subscribe.attempts must be at least 1")
	}

	// Delivery validation
	if c.Delivery.MailboxPath == "" {
		errs = append(errs, "delivery.mailbox_path is required")
	}
	if c.Delivery.AckTimeout <= 0 {
		errs = append(errs, "delivery.ack_timeout must be positive")
	}
	if c.Delivery.PendingSendHold < 0 {
		errs = append(errs, "delivery.pending_send_hold must not be negative")
	}
	if c.Delivery.PollInterval <= 0 {
		errs = append(errs, "delivery.poll_interval must be positive")
	}
	switch c.Delivery.TimeoutPolicy {
	case TimeoutPolicyRetry, TimeoutPolicyFallback:
	default:
		errs = append(errs, "delivery.timeout_policy must be retry or fallback")
	}
	if c.Delivery.MaxAttempts < 0 {
		errs = append(errs, "delivery.max_attempts must not be negative")
	}

	// Settings validation
	if c.Settings.Path == "" {
		errs = append(errs, "settings.path is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 0 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 0 and 65535")
		}
		if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
			errs = append(errs, "api.tls.cert_file and api.tls.key_file are required when TLS is enabled")
		}
		if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 {
			errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerURL returns the broker address in the form paho expects.
func (c *MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if c.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker.Host, c.Broker.Port)
}
