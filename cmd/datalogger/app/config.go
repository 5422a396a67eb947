package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
	"github.com/helios-ev/bms-datalogger/internal/datalog"
	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

// Config represents the main application configuration
type Config struct {
	Settings  Settings         `yaml:"settings"`
	Buses     []BusConfig      `yaml:"buses"`
	Layout    telemetry.Layout `yaml:"layout"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// Level parses the configured log level.
func (s Settings) Level() (slog.Level, error) {
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level '%s': %w", s.LogLevel, err)
	}
	return level, nil
}

// BusConfig binds one logical bus to a SocketCAN interface. The battery bus
// must carry a signal map; the vehicle bus is traced raw and decodes only
// when a map is given.
type BusConfig struct {
	Bus       canbus.Bus `yaml:"bus"`
	Interface string     `yaml:"interface"`
	SignalMap string     `yaml:"signalMap"`
	Enabled   bool       `yaml:"enabled"`
}

// TelemetryConfig represents the in-memory buffer settings
type TelemetryConfig struct {
	RingCapacity int `yaml:"ringCapacity"`
}

// LoggingConfig represents the session recorder settings
type LoggingConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DataDirectory string   `yaml:"dataDirectory"`
	DrainInterval Duration `yaml:"drainInterval"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "10ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// LoadConfig reads and validates the configuration file, filling in defaults
// for omitted values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if config.Layout == (telemetry.Layout{}) {
		config.Layout = telemetry.DefaultLayout()
	}
	if config.Telemetry.RingCapacity == 0 {
		config.Telemetry.RingCapacity = telemetry.DefaultCapacity
	}
	if config.Logging.DrainInterval == 0 {
		config.Logging.DrainInterval = Duration(datalog.DefaultDrainInterval)
	}

	if err = config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if _, err := c.Settings.Level(); err != nil {
		return err
	}

	var enabled int
	for i, bus := range c.Buses {
		if !bus.Enabled {
			continue
		}
		enabled++

		switch bus.Bus {
		case canbus.BusBattery, canbus.BusVehicle:
		default:
			return fmt.Errorf("bus %d: unknown bus '%s'", i, bus.Bus)
		}
		if bus.Interface == "" {
			return fmt.Errorf("bus %d: no interface specified", i)
		}
		if bus.Bus == canbus.BusBattery && bus.SignalMap == "" {
			return fmt.Errorf("bus %d: battery bus requires a signal map", i)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no buses enabled in configuration")
	}

	if c.Logging.Enabled && c.Logging.DataDirectory == "" {
		return fmt.Errorf("logging is enabled but no data directory is specified")
	}
	return nil
}
