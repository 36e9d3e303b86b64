package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override.
const envPrefix = "CONDUCTOR_"

// Config is the root configuration structure for the conductor service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Timeline  TimelineConfig  `yaml:"timeline"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// ServiceConfig identifies this conductor instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// CommandLogRetentionHours bounds the command log. 0 keeps everything.
	CommandLogRetentionHours int `yaml:"command_log_retention_hours"`
}

// MQTTConfig contains MQTT broker connection settings. The broker is only
// contacted when Enabled is set; MQTT bridge devices require it.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for command and
// resolve telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SchedulerConfig tunes the resolve loop and device pipelines. Times are
// in milliseconds unless the key says otherwise.
type SchedulerConfig struct {
	MinResolveMs       int     `yaml:"min_resolve_ms"`
	MaxResolveMs       int     `yaml:"max_resolve_ms"`
	ResolveWeight      float64 `yaml:"resolve_weight"`
	LookaheadHorizonMs int     `yaml:"lookahead_horizon_ms"`
	MaxLookaheadStates int     `yaml:"max_lookahead_states"`
	TickIntervalMs     int     `yaml:"tick_interval_ms"`

	// IsolateDevices runs every device in its own supervised worker unless
	// the device overrides it.
	IsolateDevices bool         `yaml:"isolate_devices"`
	Worker         WorkerConfig `yaml:"worker"`
}

// WorkerConfig is the supervision policy of isolated devices.
type WorkerConfig struct {
	RestartOnFailure    bool `yaml:"restart_on_failure"`
	RestartDelaySeconds int  `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
}

// TimelineConfig points at an optional timeline file imported at start.
type TimelineConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`

	// DebounceMs coalesces bursts of file writes.
	DebounceMs int `yaml:"debounce_ms"`
}

// DeviceConfig describes one device connection created at start.
type DeviceConfig struct {
	ID       string         `yaml:"id"`
	Type     string         `yaml:"type"`
	Isolated *bool          `yaml:"isolated,omitempty"`
	Options  map[string]any `yaml:"options,omitempty"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CONDUCTOR_SECTION_KEY
// For example: CONDUCTOR_DATABASE_PATH, CONDUCTOR_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overwriting variables that are already set. A missing file is
// only an error when required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "conductor-01",
			Name: "Timeline Conductor",
		},
		Database: DatabaseConfig{
			Path:                     "./data/conductor.db",
			WALMode:                  true,
			BusyTimeout:              5,
			CommandLogRetentionHours: 168,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "conductor",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "conductor",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Scheduler: SchedulerConfig{
			MinResolveMs:       20,
			MaxResolveMs:       200,
			ResolveWeight:      1,
			LookaheadHorizonMs: 10000,
			MaxLookaheadStates: 10,
			TickIntervalMs:     20,
			Worker: WorkerConfig{
				RestartOnFailure:    true,
				RestartDelaySeconds: 1,
				MaxRestartAttempts:  10,
				CallTimeoutSeconds:  5,
			},
		},
		Timeline: TimelineConfig{
			DebounceMs: 250,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CONDUCTOR_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if err := envInt("DATABASE_COMMAND_LOG_RETENTION_HOURS", &cfg.Database.CommandLogRetentionHours); err != nil {
		return err
	}

	// MQTT
	if v := getenv("MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if err := envInt("MQTT_PORT", &cfg.MQTT.Broker.Port); err != nil {
		return err
	}
	if v := getenv("MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if err := envBool("MQTT_ENABLED", &cfg.MQTT.Enabled); err != nil {
		return err
	}

	// API
	if v := getenv("API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if err := envInt("API_PORT", &cfg.API.Port); err != nil {
		return err
	}

	// InfluxDB
	if v := getenv("INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := getenv("INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Scheduler and timeline
	if err := envBool("ISOLATE_DEVICES", &cfg.Scheduler.IsolateDevices); err != nil {
		return err
	}
	if v := getenv("TIMELINE_FILE"); v != "" {
		cfg.Timeline.File = v
	}
	return nil
}

func getenv(key string) string {
	return os.Getenv(envPrefix + key)
}

func envInt(key string, dst *int) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = b
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.CommandLogRetentionHours < 0 {
		errs = append(errs, "database.command_log_retention_hours must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	s := c.Scheduler
	if s.MinResolveMs <= 0 {
		errs = append(errs, "scheduler.min_resolve_ms must be positive")
	}
	if s.MaxResolveMs < s.MinResolveMs {
		errs = append(errs, "scheduler.max_resolve_ms must not be less than scheduler.min_resolve_ms")
	}
	if s.LookaheadHorizonMs <= 0 {
		errs = append(errs, "scheduler.lookahead_horizon_ms must be positive")
	}
	if s.MaxLookaheadStates < 1 {
		errs = append(errs, "scheduler.max_lookahead_states must be at least 1")
	}
	if s.TickIntervalMs <= 0 {
		errs = append(errs, "scheduler.tick_interval_ms must be positive")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
		case seen[d.ID]:
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true
		if d.Type == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].type is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// Millis converts a millisecond setting to a Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
