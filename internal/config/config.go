package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/mcscan/internal/coordinator"
	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/output"
	"github.com/anstrom/mcscan/internal/probe"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete scanner configuration
type Config struct {
	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Persistence configuration
	Persistence PersistenceConfig `yaml:"persistence" json:"persistence"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`

	// Metrics endpoint configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Schedule for watch mode
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
}

// ScanningConfig holds scanning-related settings
type ScanningConfig struct {
	// Number of concurrent scanning workers
	WorkerCount int `yaml:"worker_count" json:"worker_count" validate:"min=1,max=65536"`

	// Deadline for a single status query
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout" validate:"gt=0"`

	// How often progress is logged
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval" validate:"gt=0"`

	// Protocol version sent in the handshake
	ProtocolVersion int `yaml:"protocol_version" json:"protocol_version" validate:"min=-1"`

	// Look up _minecraft._tcp SRV records for host names
	ResolveSRV bool `yaml:"resolve_srv" json:"resolve_srv"`

	// Probes per second across all workers, 0 disables the limit
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"min=0"`

	// Abort the scan on an unexpected probe failure
	FailFast bool `yaml:"fail_fast" json:"fail_fast"`
}

// PersistenceConfig holds settings for the buffered writer
type PersistenceConfig struct {
	// Interval between flushes of buffered results
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" validate:"gt=0"`

	// Attempts per flush before the batch is requeued
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"min=1,max=100"`

	// Delay between attempts
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" validate:"min=0"`

	// Optional .txt file servers are appended to
	OutputPath string `yaml:"output_path" json:"output_path"`
}

// MetricsConfig holds Prometheus endpoint settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required_if=Enabled true"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required_if=Enabled true"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"min=0,max=65535"`

	// Timeouts
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"min=0"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// ScheduleConfig controls periodic rescans
type ScheduleConfig struct {
	// Standard five-field cron expression or descriptor such as "@hourly"
	Cron string `yaml:"cron" json:"cron"`

	// Which stored sockets each run rescans
	Selection string `yaml:"selection" json:"selection"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	persistence := coordinator.DefaultConfig()
	return &Config{
		Database: db.DefaultConfig(),
		Scanning: ScanningConfig{
			WorkerCount:      2048,
			ProbeTimeout:     10 * time.Second,
			ProgressInterval: 15 * time.Second,
			ProtocolVersion:  probe.DefaultProtocolVersion,
			ResolveSRV:       false,
			RateLimit:        0,
			FailFast:         true,
		},
		Persistence: PersistenceConfig{
			FlushInterval: persistence.FlushInterval,
			MaxRetries:    persistence.MaxRetries,
			RetryDelay:    persistence.RetryDelay,
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9100",
		},
		API: APIConfig{
			Enabled:      true,
			ListenAddr:   "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
			},
		},
		Schedule: ScheduleConfig{
			Cron:      "@hourly",
			Selection: string(db.SelectFailed),
		},
	}
}

// Load loads configuration from a file over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	// #nosec G304 - config path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// YAML is a superset of JSON, so .json files parse the same way.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			field := fe.Namespace()
			if i := strings.IndexByte(field, '.'); i >= 0 {
				field = field[i+1:]
			}
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed %q validation", fe.Tag()), field, fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	// Validate database configuration
	if c.Database.Driver != db.DriverSQLite {
		if c.Database.Host == "" {
			return errors.ErrConfigMissing("database.host")
		}
		if c.Database.Database == "" {
			return errors.ErrConfigMissing("database.database")
		}
		if c.Database.Username == "" {
			return errors.ErrConfigMissing("database.username")
		}
	}

	// Validate logging configuration
	switch strings.ToLower(string(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	// Validate persistence configuration
	if c.Persistence.OutputPath != "" && !strings.EqualFold(filepath.Ext(c.Persistence.OutputPath), output.Ext) {
		return errors.ErrConfigInvalid("persistence.output_path", c.Persistence.OutputPath)
	}

	// Validate API configuration
	if c.API.Enabled && c.API.Port == 0 {
		return errors.ErrConfigInvalid("api.port", c.API.Port)
	}

	// Validate schedule configuration
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return errors.ErrConfigInvalid("schedule.cron", c.Schedule.Cron)
		}
	}
	if _, err := db.ParseSelection(c.Schedule.Selection); err != nil {
		return errors.ErrConfigInvalid("schedule.selection", c.Schedule.Selection)
	}

	return nil
}

// IsAPIEnabled returns true if API server is enabled
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}

// Coordinator returns the persistence settings for the coordinator.
func (p PersistenceConfig) Coordinator() coordinator.Config {
	return coordinator.Config{
		FlushInterval: p.FlushInterval,
		MaxRetries:    p.MaxRetries,
		RetryDelay:    p.RetryDelay,
	}
}

// Probe returns the probe client settings.
func (s ScanningConfig) Probe() probe.Config {
	return probe.Config{
		ProtocolVersion: s.ProtocolVersion,
		ResolveSRV:      s.ResolveSRV,
	}
}
