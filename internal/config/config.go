package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/ship-safety/internal/logger"
)

// Config holds the settings shared by the safety binaries.
type Config struct {
	// ListenAddress is where safety-server accepts gRPC connections.
	ListenAddress string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	// ServerAddress is the gRPC address safety-ctl dials.
	ServerAddress string `yaml:"server_addr" env:"SERVER_ADDR"`
	// MetricsAddress serves the Prometheus endpoint; empty disables it.
	MetricsAddress string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	// StateFile is the path to the JSON ship snapshot.
	StateFile string `yaml:"state_file" env:"STATE_FILE"`
	// EventDB is the SQLite event archive path.
	EventDB string `yaml:"event_db" env:"EVENT_DB"`
	// ShipFile overrides the embedded ship layout.
	ShipFile string `yaml:"ship_file" env:"SHIP_FILE"`
	// ProtocolsFile overrides the embedded protocol catalogue.
	ProtocolsFile string `yaml:"protocols_file" env:"PROTOCOLS_FILE"`
	// Timeout bounds RPC calls made by safety-ctl.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// StepTimeout bounds a single protocol step.
	StepTimeout time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
	// StepRetries is how often an unavailable adapter is retried inside a step;
	// negative disables retries.
	StepRetries int `yaml:"step_retries" env:"STEP_RETRIES"`
	// EventLogSize is the number of events kept in memory.
	EventLogSize int `yaml:"event_log_size" env:"EVENT_LOG_SIZE"`
	// IODelay simulates device latency inside adapters.
	IODelay time.Duration `yaml:"io_delay" env:"IO_DELAY"`
	// TestFailureRatio is the per-zone failed device ratio a self-test tolerates.
	TestFailureRatio float64 `yaml:"test_failure_ratio" env:"TEST_FAILURE_RATIO"`
	// ComplianceInterval is the period of the compliance sweep.
	ComplianceInterval time.Duration `yaml:"compliance_interval" env:"COMPLIANCE_INTERVAL"`
	// HealthInterval is the period of the health check.
	HealthInterval time.Duration `yaml:"health_interval" env:"HEALTH_INTERVAL"`
	// SampleInterval is the period of performance sampling.
	SampleInterval time.Duration `yaml:"sample_interval" env:"SAMPLE_INTERVAL"`
	// HealthThreshold is the score below which a subsystem raises a fault.
	HealthThreshold float64 `yaml:"health_threshold" env:"HEALTH_THRESHOLD"`
	// StartupThreshold is the score below which the startup check warns.
	StartupThreshold float64 `yaml:"startup_threshold" env:"STARTUP_THRESHOLD"`
	// Telemetry configures the health sample sink.
	Telemetry Telemetry `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	// Environment configures the static environmental conditions.
	Environment Environment `yaml:"environment" envPrefix:"ENVIRONMENT_"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	// LogFormat is console or json.
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

// Telemetry is the GreptimeDB connection used for health samples.
type Telemetry struct {
	// Address is host:port of the GreptimeDB gRPC endpoint; empty disables the sink.
	Address string `yaml:"address" env:"ADDRESS"`
	// Database is the target database.
	Database string `yaml:"database" env:"DATABASE"`
	// Username authenticates the client.
	Username string `yaml:"username" env:"USERNAME"`
	// Password authenticates the client.
	Password string `yaml:"password" env:"PASSWORD"`
	// Table receives the samples.
	Table string `yaml:"table" env:"TABLE"`
}

// Environment holds observed conditions applied as score penalties.
type Environment struct {
	// Enabled turns the penalties on; disabled means no data source.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Visibility in nautical miles.
	Visibility float64 `yaml:"visibility" env:"VISIBILITY"`
	// SeaState on the Douglas scale.
	SeaState int `yaml:"sea_state" env:"SEA_STATE"`
	// WindSpeed in knots.
	WindSpeed float64 `yaml:"wind_speed" env:"WIND_SPEED"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "ship-safety-settings.yaml"

	// DefaultStateFilename is the default filename for the ship snapshot.
	DefaultStateFilename = "ship-safety-state.json"

	// DefaultEventDBFilename is the default SQLite event archive.
	DefaultEventDBFilename = "ship-safety-events.db"

	// DefaultServerAddress is used when no address is configured.
	DefaultServerAddress = "127.0.0.1:50051"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultStepTimeout bounds one protocol step.
	DefaultStepTimeout = 10 * time.Second

	// DefaultStepRetries is the retry count for unavailable adapters.
	DefaultStepRetries = 2

	// DefaultEventLogSize is the in-memory event log capacity.
	DefaultEventLogSize = 1000

	// DefaultComplianceInterval is the compliance sweep period.
	DefaultComplianceInterval = 24 * time.Hour

	// DefaultHealthInterval is the health check period.
	DefaultHealthInterval = time.Hour

	// DefaultSampleInterval is the performance sampling period.
	DefaultSampleInterval = 5 * time.Minute

	// DefaultHealthThreshold raises a system_fault below this score.
	DefaultHealthThreshold = 70.0

	// DefaultStartupThreshold logs subsystems below this score at startup.
	DefaultStartupThreshold = 80.0

	// DefaultTelemetryTable receives health samples.
	DefaultTelemetryTable = "subsystem_health"

	// DefaultTelemetryDatabase is the GreptimeDB database.
	DefaultTelemetryDatabase = "public"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errBadRatio is returned for failure ratios outside [0, 1].
	errBadRatio = errors.New("test failure ratio must be within [0, 1]")
	// errBadLogLevel is returned for unknown log levels.
	errBadLogLevel = errors.New("unknown log level")
	// errBadLogFormat is returned for unknown log formats.
	errBadLogFormat = errors.New("unknown log format")
)

// Load reads configuration from the provided path, applies environment
// overrides and validates the result. A missing default file yields defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	var cfg Config

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err := yaml.Unmarshal(contents, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may carry telemetry credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ServerAddress == "" {
		settings.ServerAddress = DefaultServerAddress
	}

	if settings.ListenAddress == "" {
		settings.ListenAddress = settings.ServerAddress
	}

	for _, address := range []string{settings.ServerAddress, settings.ListenAddress} {
		if _, err := net.ResolveTCPAddr("tcp", address); err != nil {
			return fmt.Errorf("invalid server socket: %w", err)
		}
	}

	if settings.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics socket: %w", err)
		}
	}

	if settings.TestFailureRatio < 0 || settings.TestFailureRatio > 1 {
		return fmt.Errorf("%w: %v", errBadRatio, settings.TestFailureRatio)
	}

	if settings.LogLevel != "" {
		if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
			return fmt.Errorf("%w: %q", errBadLogLevel, settings.LogLevel)
		}
	}

	if settings.LogFormat != "" {
		if _, ok := logger.ParseFormat(settings.LogFormat); !ok {
			return fmt.Errorf("%w: %q", errBadLogFormat, settings.LogFormat)
		}
	}

	settings.fill()

	return nil
}

func (c *Config) fill() {
	setString(&c.StateFile, DefaultStateFilename)
	setString(&c.EventDB, DefaultEventDBFilename)
	setDuration(&c.Timeout, DefaultTimeout)
	setDuration(&c.StepTimeout, DefaultStepTimeout)
	setDuration(&c.ComplianceInterval, DefaultComplianceInterval)
	setDuration(&c.HealthInterval, DefaultHealthInterval)
	setDuration(&c.SampleInterval, DefaultSampleInterval)

	// Negative retries disable retrying.
	if c.StepRetries == 0 {
		c.StepRetries = DefaultStepRetries
	}

	if c.EventLogSize <= 0 {
		c.EventLogSize = DefaultEventLogSize
	}

	if c.HealthThreshold <= 0 {
		c.HealthThreshold = DefaultHealthThreshold
	}

	if c.StartupThreshold <= 0 {
		c.StartupThreshold = DefaultStartupThreshold
	}

	if c.Telemetry.Address != "" {
		setString(&c.Telemetry.Database, DefaultTelemetryDatabase)
		setString(&c.Telemetry.Table, DefaultTelemetryTable)
	}
}

func setString(v *string, fallback string) {
	if *v == "" {
		*v = fallback
	}
}

func setDuration(v *time.Duration, fallback time.Duration) {
	if *v <= 0 {
		*v = fallback
	}
}
