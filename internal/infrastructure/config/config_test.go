package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeFile(t, "config.yaml", `
service:
  id: "studio-a"
database:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
scheduler:
  lookahead_horizon_ms: 5000
  isolate_devices: true
timeline:
  file: "/srv/show.yaml"
  watch: true
devices:
  - id: "vision"
    type: "abstract"
  - id: "caspar"
    type: "mqttbridge"
    isolated: false
    options:
      protocol: "casparcg"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "studio-a" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "studio-a")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Scheduler.LookaheadHorizonMs != 5000 {
		t.Errorf("Scheduler.LookaheadHorizonMs = %d, want 5000", cfg.Scheduler.LookaheadHorizonMs)
	}
	if cfg.Scheduler.MaxResolveMs != 200 {
		t.Errorf("Scheduler.MaxResolveMs = %d, want default 200", cfg.Scheduler.MaxResolveMs)
	}
	if !cfg.Scheduler.IsolateDevices {
		t.Error("Scheduler.IsolateDevices = false, want true")
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.Devices))
	}
	if cfg.Devices[1].Isolated == nil || *cfg.Devices[1].Isolated {
		t.Error("Devices[1].Isolated should be an explicit false")
	}
	if cfg.Devices[1].Options["protocol"] != "casparcg" {
		t.Errorf("Devices[1].Options = %v", cfg.Devices[1].Options)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeFile(t, "config.yaml", "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeFile(t, "config.yaml", `
service:
  id: ""
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty service.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing service ID", mutate: func(c *Config) { c.Service.ID = "" }, wantErr: "service.id"},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{
			name:    "negative command log retention",
			mutate:  func(c *Config) { c.Database.CommandLogRetentionHours = -1 },
			wantErr: "command_log_retention_hours",
		},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: "api.port"},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{
			name:    "influxdb without bucket",
			mutate:  func(c *Config) { c.InfluxDB = InfluxDBConfig{Enabled: true, URL: "http://influx:8086", Org: "ops"} },
			wantErr: "influxdb",
		},
		{name: "zero min resolve", mutate: func(c *Config) { c.Scheduler.MinResolveMs = 0 }, wantErr: "min_resolve_ms"},
		{
			name:    "max below min",
			mutate:  func(c *Config) { c.Scheduler.MinResolveMs = 50; c.Scheduler.MaxResolveMs = 40 },
			wantErr: "max_resolve_ms",
		},
		{name: "no lookahead states", mutate: func(c *Config) { c.Scheduler.MaxLookaheadStates = 0 }, wantErr: "max_lookahead_states"},
		{
			name:    "device without type",
			mutate:  func(c *Config) { c.Devices = []DeviceConfig{{ID: "a"}} },
			wantErr: "devices[0].type",
		},
		{
			name:    "duplicate device",
			mutate:  func(c *Config) { c.Devices = []DeviceConfig{{ID: "a", Type: "abstract"}, {ID: "a", Type: "abstract"}} },
			wantErr: "duplicated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := Millis(250).Milliseconds(); got != 250 {
		t.Errorf("Millis(250) = %vms, want 250", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("CONDUCTOR_DATABASE_PATH", "/custom/path.db")
	t.Setenv("CONDUCTOR_DATABASE_COMMAND_LOG_RETENTION_HOURS", "24")
	t.Setenv("CONDUCTOR_MQTT_HOST", "mqtt.example.com")
	t.Setenv("CONDUCTOR_MQTT_PORT", "8883")
	t.Setenv("CONDUCTOR_MQTT_USERNAME", "testuser")
	t.Setenv("CONDUCTOR_MQTT_PASSWORD", "testpass")
	t.Setenv("CONDUCTOR_MQTT_ENABLED", "true")
	t.Setenv("CONDUCTOR_API_HOST", "192.168.1.1")
	t.Setenv("CONDUCTOR_API_PORT", "9090")
	t.Setenv("CONDUCTOR_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("CONDUCTOR_LOG_LEVEL", "debug")
	t.Setenv("CONDUCTOR_ISOLATE_DEVICES", "1")
	t.Setenv("CONDUCTOR_TIMELINE_FILE", "/srv/show.yaml")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.Database.CommandLogRetentionHours != 24 {
		t.Errorf("Database.CommandLogRetentionHours = %d, want 24", cfg.Database.CommandLogRetentionHours)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT broker = %s:%d, want mqtt.example.com:8883", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}
	if cfg.API.Host != "192.168.1.1" || cfg.API.Port != 9090 {
		t.Errorf("API = %s:%d, want 192.168.1.1:9090", cfg.API.Host, cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if !cfg.Scheduler.IsolateDevices {
		t.Error("Scheduler.IsolateDevices = false, want true")
	}
	if cfg.Timeline.File != "/srv/show.yaml" {
		t.Errorf("Timeline.File = %q", cfg.Timeline.File)
	}
}

func TestApplyEnvOverrides_InvalidNumber(t *testing.T) {
	t.Setenv("CONDUCTOR_API_PORT", "eighty")

	if err := applyEnvOverrides(defaultConfig()); err == nil {
		t.Error("applyEnvOverrides() expected error for non-numeric port")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "CONDUCTOR_TEST_ENV_FILE=from-file\n")
	t.Setenv("CONDUCTOR_TEST_ENV_FILE", "")
	os.Unsetenv("CONDUCTOR_TEST_ENV_FILE") //nolint:errcheck // test cleanup restores it

	if err := LoadEnvFile(path, true); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv("CONDUCTOR_TEST_ENV_FILE"); got != "from-file" {
		t.Errorf("CONDUCTOR_TEST_ENV_FILE = %q, want from-file", got)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"), false); err != nil {
		t.Errorf("optional missing file should not fail, got %v", err)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"), true); err == nil {
		t.Error("required missing file should fail")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Service.ID == "" {
		t.Error("defaultConfig should have non-empty Service.ID")
	}
	if cfg.Scheduler.MinResolveMs != 20 || cfg.Scheduler.MaxResolveMs != 200 {
		t.Errorf("resolve bounds = [%d, %d], want [20, 200]", cfg.Scheduler.MinResolveMs, cfg.Scheduler.MaxResolveMs)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Database.CommandLogRetentionHours != 168 {
		t.Errorf("defaultConfig retention = %dh, want 168h", cfg.Database.CommandLogRetentionHours)
	}
}
