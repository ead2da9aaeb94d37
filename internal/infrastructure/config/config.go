package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for MacroForge Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Matching  MatchingConfig  `yaml:"matching"`
	Humanizer HumanizerConfig `yaml:"humanizer"`
	Engine    EngineConfig    `yaml:"engine"`
	Queue     QueueConfig     `yaml:"queue"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DeviceConfig describes how to reach the controlled device over adb.
type DeviceConfig struct {
	// Serial selects the device (adb -s). When empty, host:port is used.
	Serial string `yaml:"serial"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`

	// ADBPath is the adb executable. Discovery and installation are out of scope.
	ADBPath string `yaml:"adb_path"`

	// CommandTimeout bounds a single adb invocation (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	ManagedServer ManagedServerConfig `yaml:"managed_server"`
}

// ManagedServerConfig controls whether MacroForge supervises its own adb server.
type ManagedServerConfig struct {
	Enabled             bool `yaml:"enabled"`
	Port                int  `yaml:"port"`
	RestartOnFailure    bool `yaml:"restart_on_failure"`
	RestartDelaySeconds int  `yaml:"restart_delay_seconds"`
	MaxRestartAttempts  int  `yaml:"max_restart_attempts"`
}

// MatchingConfig contains template matching settings.
type MatchingConfig struct {
	ConfidenceThreshold float64   `yaml:"confidence_threshold"`
	UseGrayscale        bool      `yaml:"use_grayscale"`
	Scales              []float64 `yaml:"scales"`
	TemplatesDir        string    `yaml:"templates_dir"`
}

// HumanizerConfig contains input randomisation settings.
type HumanizerConfig struct {
	OffsetRange int `yaml:"offset_range"`
	MinDelayMS  int `yaml:"min_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
	HoldMinMS   int `yaml:"hold_min_ms"`
	HoldMaxMS   int `yaml:"hold_max_ms"`
}

// EngineConfig contains macro engine limits.
type EngineConfig struct {
	// MaxSteps caps how many steps a single run may execute (branch loop guard).
	MaxSteps int `yaml:"max_steps"`

	// DefaultPollMS is used by image steps that do not set a poll interval.
	DefaultPollMS int `yaml:"default_poll_ms"`

	// ScriptsDir is where script documents referenced by queue files live.
	ScriptsDir string `yaml:"scripts_dir"`
}

// QueueConfig contains the queue sequencer failure policy.
type QueueConfig struct {
	Policy     string `yaml:"policy"` // skip, abort, retry
	MaxRetries int    `yaml:"max_retries"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains status stream WebSocket settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings. An empty secret disables API auth.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	TokenTTL int    `yaml:"token_ttl"` // minutes
}

// Queue failure policies.
const (
	PolicySkip  = "skip"
	PolicyAbort = "abort"
	PolicyRetry = "retry"
)

// minJWTSecretLength is enforced only when a secret is configured.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern MACROFORGE_SECTION_KEY,
// for example MACROFORGE_DEVICE_SERIAL or MACROFORGE_DATABASE_PATH.
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config populated with defaults. Commands that run without a
// config file (run, validate, match) start from here.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Host:           "127.0.0.1",
			Port:           5555,
			ADBPath:        "adb",
			CommandTimeout: 10,
			ManagedServer: ManagedServerConfig{
				Port:                5037,
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
			},
		},
		Matching: MatchingConfig{
			ConfidenceThreshold: 0.85,
			UseGrayscale:        true,
			Scales:              []float64{0.9, 1.1, 0.8, 1.2},
			TemplatesDir:        ".",
		},
		Humanizer: HumanizerConfig{
			OffsetRange: 5,
			MinDelayMS:  300,
			MaxDelayMS:  1200,
			HoldMinMS:   50,
			HoldMaxMS:   150,
		},
		Engine: EngineConfig{
			MaxSteps:      10000,
			DefaultPollMS: 500,
			ScriptsDir:    ".",
		},
		Queue: QueueConfig{
			Policy:     PolicySkip,
			MaxRetries: 1,
		},
		Database: DatabaseConfig{
			Path:        "./data/macroforge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "macroforge-core",
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
			Port:    8750,
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
		Security: SecurityConfig{
			JWT: JWTConfig{TokenTTL: 60},
		},
	}
}

// FromEnv returns the defaults with environment overrides applied and validated.
func FromEnv() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies MACROFORGE_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MACROFORGE_DEVICE_SERIAL"); v != "" {
		cfg.Device.Serial = v
	}
	if v := os.Getenv("MACROFORGE_DEVICE_HOST"); v != "" {
		cfg.Device.Host = v
	}
	if v := os.Getenv("MACROFORGE_DEVICE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Device.Port = port
		}
	}
	if v := os.Getenv("MACROFORGE_ADB_PATH"); v != "" {
		cfg.Device.ADBPath = v
	}
	if v := os.Getenv("MACROFORGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MACROFORGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MACROFORGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MACROFORGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MACROFORGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("MACROFORGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration and reports every problem found in one error.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ADBPath == "" {
		errs = append(errs, "device.adb_path is required")
	}
	if c.Device.Serial == "" && c.Device.Host == "" {
		errs = append(errs, "device.serial or device.host is required")
	}
	if c.Device.CommandTimeout < 1 {
		errs = append(errs, "device.command_timeout must be at least 1 second")
	}

	if c.Matching.ConfidenceThreshold < 0 || c.Matching.ConfidenceThreshold > 1 {
		errs = append(errs, "matching.confidence_threshold must be between 0 and 1")
	}
	for _, s := range c.Matching.Scales {
		if s <= 0 {
			errs = append(errs, "matching.scales must all be positive")
			break
		}
	}

	if c.Humanizer.OffsetRange < 0 {
		errs = append(errs, "humanizer.offset_range must not be negative")
	}
	if c.Humanizer.MinDelayMS < 0 || c.Humanizer.MinDelayMS > c.Humanizer.MaxDelayMS {
		errs = append(errs, "humanizer.min_delay_ms must be between 0 and humanizer.max_delay_ms")
	}
	if c.Humanizer.HoldMinMS < 0 || c.Humanizer.HoldMinMS > c.Humanizer.HoldMaxMS {
		errs = append(errs, "humanizer.hold_min_ms must be between 0 and humanizer.hold_max_ms")
	}

	if c.Engine.MaxSteps < 1 {
		errs = append(errs, "engine.max_steps must be positive")
	}
	if c.Engine.DefaultPollMS < 1 {
		errs = append(errs, "engine.default_poll_ms must be positive")
	}

	switch c.Queue.Policy {
	case PolicySkip, PolicyAbort, PolicyRetry:
	default:
		errs = append(errs, fmt.Sprintf("queue.policy %q must be skip, abort or retry", c.Queue.Policy))
	}
	if c.Queue.MaxRetries < 0 {
		errs = append(errs, "queue.max_retries must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CommandTimeout returns the adb command timeout as a Duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Device.CommandTimeout) * time.Second
}

// DeviceAddress returns the host:port used for adb connect.
func (c *Config) DeviceAddress() string {
	return fmt.Sprintf("%s:%d", c.Device.Host, c.Device.Port)
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
