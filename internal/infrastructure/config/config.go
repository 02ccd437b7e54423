package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Lumacore.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Safety    SafetyConfig    `yaml:"safety"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Limits    LimitsConfig    `yaml:"limits"`
	Engine    EngineConfig    `yaml:"engine"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DeviceConfig identifies the treatment device installation.
type DeviceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Simulate bool   `yaml:"simulate"`
}

// SafetyConfig contains interlock monitoring parameters.
//
// The defaults implement the positive-permission policy: every monitored
// signal must be affirmatively confirmed within the staleness window before
// emission is permitted. These values are deployment-tunable but the policy
// itself is not.
type SafetyConfig struct {
	// SampleInterval is the interlock sampling period. Default 10ms (100Hz).
	SampleInterval time.Duration `yaml:"sample_interval"`

	// StalenessWindow is the maximum age of an interlock snapshot before it
	// is no longer trusted. Default 1s.
	StalenessWindow time.Duration `yaml:"staleness_window"`

	// SignalReadTimeout bounds each individual hardware signal read.
	// A timed-out read is reported as a fault, never retried inline.
	SignalReadTimeout time.Duration `yaml:"signal_read_timeout"`

	// DebounceCount is the number of consecutive consistent readings required
	// before a digital signal transition toward "ok" is accepted. Transitions
	// toward "fault" are always accepted on a single reading. Default 2.
	DebounceCount int `yaml:"debounce_count"`

	// PowerWarnBand is the fractional deviation between commanded and measured
	// optical power that raises an advisory. Default 0.15 (15%).
	PowerWarnBand float64 `yaml:"power_warn_band"`

	// PowerFaultBand is the fractional deviation reported as an interlock
	// fault. Default 0.30 (30%).
	PowerFaultBand float64 `yaml:"power_fault_band"`

	// PowerZeroToleranceWatts is the maximum measured power accepted while
	// the laser is commanded off. Anything above it indicates uncommanded
	// emission and is a critical fault. Default 0.05W.
	PowerZeroToleranceWatts float64 `yaml:"power_zero_tolerance_watts"`

	// Calibration maps raw power-sensor units to watts as a piecewise-linear
	// curve. If empty, raw units are taken as watts directly.
	Calibration []CalibrationPoint `yaml:"calibration"`
}

// CalibrationPoint is one point on the power sensor calibration curve.
type CalibrationPoint struct {
	Raw   float64 `yaml:"raw"`
	Watts float64 `yaml:"watts"`
}

// WatchdogConfig contains hardware watchdog parameters.
type WatchdogConfig struct {
	// Timeout is how long the watchdog waits for a heartbeat before raising
	// a fault. Default 1000ms (2x the heartbeat interval).
	Timeout time.Duration `yaml:"timeout"`

	// HeartbeatInterval is the expected safety-loop beat period. Default
	// 500ms. The loop actually beats on every sample; this is the contract
	// the timeout is validated against.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// CheckInterval is how often the watchdog's own timer checks the
	// deadline. Runs on an independent goroutine. Default 100ms.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// LimitsConfig contains hard emission limits enforced on every command.
type LimitsConfig struct {
	// AbsoluteMaxWatts is the hardware ceiling. No command above this is
	// ever issued, regardless of protocol content.
	AbsoluteMaxWatts float64 `yaml:"absolute_max_watts"`

	// MaxRampWattsPerSecond bounds the per-tick power delta.
	MaxRampWattsPerSecond float64 `yaml:"max_ramp_watts_per_second"`

	// MaxTravelMM bounds actuator move-to targets.
	MaxTravelMM float64 `yaml:"max_travel_mm"`
}

// EngineConfig contains protocol execution parameters.
type EngineConfig struct {
	// TickInterval is the protocol engine's execution period. Default 50ms
	// (20Hz). Runs on a separate goroutine from the safety loop.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// DatabaseConfig contains SQLite event-store settings.
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// WebSocketConfig contains WebSocket event-stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains telemetry write settings.
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

// JWTConfig contains supervisor token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LUMACORE_SECTION_KEY
// For example: LUMACORE_DATABASE_PATH, LUMACORE_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// Default returns a Config with the documented safety defaults.
//
// The safety parameters (100Hz sampling, 1s staleness, 15%/30% power bands,
// 1000ms watchdog timeout) are deployment-tunable via YAML but these values
// are the validated baseline.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:   "lumacore-001",
			Name: "Lumacore",
		},
		Safety: SafetyConfig{
			SampleInterval:          10 * time.Millisecond,
			StalenessWindow:         time.Second,
			SignalReadTimeout:       5 * time.Millisecond,
			DebounceCount:           2,
			PowerWarnBand:           0.15,
			PowerFaultBand:          0.30,
			PowerZeroToleranceWatts: 0.05,
		},
		Watchdog: WatchdogConfig{
			Timeout:           time.Second,
			HeartbeatInterval: 500 * time.Millisecond,
			CheckInterval:     100 * time.Millisecond,
		},
		Limits: LimitsConfig{
			AbsoluteMaxWatts:      30.0,
			MaxRampWattsPerSecond: 15.0,
			MaxTravelMM:           50.0,
		},
		Engine: EngineConfig{
			TickInterval: 50 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Path:        "./data/lumacore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lumacore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
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
			Path:           "/ws",
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
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LUMACORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LUMACORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("LUMACORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LUMACORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LUMACORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("LUMACORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("LUMACORE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("LUMACORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("LUMACORE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and unsafe values.
//
// Safety parameters get the strictest treatment: a zero or negative interval,
// an inverted warn/fault band pair, or a zero power ceiling would silently
// weaken the interlock policy, so all are rejected here rather than patched
// with fallbacks at the point of use.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	// Safety validation
	if c.Safety.SampleInterval <= 0 {
		errs = append(errs, "safety.sample_interval must be positive")
	} else if c.Safety.SampleInterval > 10*time.Millisecond {
		errs = append(errs, "safety.sample_interval must be 10ms or less (100Hz minimum)")
	}
	if c.Safety.StalenessWindow <= 0 {
		errs = append(errs, "safety.staleness_window must be positive")
	}
	if c.Safety.SignalReadTimeout <= 0 || c.Safety.SignalReadTimeout >= c.Safety.SampleInterval {
		errs = append(errs, "safety.signal_read_timeout must be positive and shorter than the sample interval")
	}
	if c.Safety.DebounceCount < 1 {
		errs = append(errs, "safety.debounce_count must be at least 1")
	}
	if c.Safety.PowerWarnBand <= 0 || c.Safety.PowerFaultBand <= 0 {
		errs = append(errs, "safety.power_warn_band and power_fault_band must be positive")
	} else if c.Safety.PowerWarnBand >= c.Safety.PowerFaultBand {
		errs = append(errs, "safety.power_warn_band must be below power_fault_band")
	}
	if c.Safety.PowerZeroToleranceWatts < 0 {
		errs = append(errs, "safety.power_zero_tolerance_watts must not be negative")
	}

	// Watchdog validation: the timeout must exceed the heartbeat interval or
	// the watchdog fires during normal operation.
	if c.Watchdog.Timeout <= 0 || c.Watchdog.CheckInterval <= 0 {
		errs = append(errs, "watchdog.timeout and check_interval must be positive")
	}
	if c.Watchdog.HeartbeatInterval > 0 && c.Watchdog.Timeout <= c.Watchdog.HeartbeatInterval {
		errs = append(errs, "watchdog.timeout must exceed heartbeat_interval")
	}

	// Limits validation
	if c.Limits.AbsoluteMaxWatts <= 0 {
		errs = append(errs, "limits.absolute_max_watts must be positive")
	}
	if c.Limits.MaxRampWattsPerSecond <= 0 {
		errs = append(errs, "limits.max_ramp_watts_per_second must be positive")
	}

	if c.Engine.TickInterval <= 0 {
		errs = append(errs, "engine.tick_interval must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// JWT secret is required: supervisor fault clearance is authenticated,
	// and a forgeable token would let anyone clear a safety fault.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set LUMACORE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	// Calibration curve must be monotonic in raw units.
	for i := 1; i < len(c.Safety.Calibration); i++ {
		if c.Safety.Calibration[i].Raw <= c.Safety.Calibration[i-1].Raw {
			errs = append(errs, "safety.calibration points must be strictly increasing in raw units")
			break
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
