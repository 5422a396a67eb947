package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Full(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
buses:
  - bus: battery
    interface: can0
    signalMap: battery_signals.yaml
    enabled: true
  - bus: vehicle
    interface: can1
    enabled: true
layout:
  voltageModules: 4
  voltageCells: 12
  tempModules: 4
  tempCells: 5
telemetry:
  ringCapacity: 1200
logging:
  enabled: true
  dataDirectory: /data/logs
  drainInterval: 25ms
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	level, err := config.Settings.Level()
	if err != nil {
		t.Fatalf("Failed to parse log level: %v", err)
	}
	if level != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", level)
	}

	if len(config.Buses) != 2 || config.Buses[0].Bus != canbus.BusBattery || config.Buses[1].Interface != "can1" {
		t.Errorf("Unexpected bus config: %+v", config.Buses)
	}

	want := telemetry.Layout{VoltageModules: 4, VoltageCells: 12, TempModules: 4, TempCells: 5}
	if config.Layout != want {
		t.Errorf("Expected layout %+v, got %+v", want, config.Layout)
	}

	if config.Telemetry.RingCapacity != 1200 {
		t.Errorf("Expected ring capacity 1200, got %d", config.Telemetry.RingCapacity)
	}
	if time.Duration(config.Logging.DrainInterval) != 25*time.Millisecond {
		t.Errorf("Expected 25ms drain interval, got %v", time.Duration(config.Logging.DrainInterval))
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
buses:
  - bus: battery
    interface: can0
    signalMap: battery_signals.yaml
    enabled: true
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Layout != telemetry.DefaultLayout() {
		t.Errorf("Expected default layout, got %+v", config.Layout)
	}
	if config.Telemetry.RingCapacity != telemetry.DefaultCapacity {
		t.Errorf("Expected default ring capacity, got %d", config.Telemetry.RingCapacity)
	}
	if level, _ := config.Settings.Level(); level != slog.LevelInfo {
		t.Errorf("Expected info level by default, got %v", level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "NoBuses",
			content: "settings:\n  logLevel: info\n",
		},
		{
			name: "AllBusesDisabled",
			content: `
buses:
  - bus: battery
    interface: can0
    signalMap: m.yaml
    enabled: false
`,
		},
		{
			name: "UnknownBus",
			content: `
buses:
  - bus: chassis
    interface: can0
    enabled: true
`,
		},
		{
			name: "BatteryWithoutSignalMap",
			content: `
buses:
  - bus: battery
    interface: can0
    enabled: true
`,
		},
		{
			name: "MissingInterface",
			content: `
buses:
  - bus: vehicle
    enabled: true
`,
		},
		{
			name: "LoggingWithoutDirectory",
			content: `
buses:
  - bus: battery
    interface: can0
    signalMap: m.yaml
    enabled: true
logging:
  enabled: true
`,
		},
		{
			name: "BadLogLevel",
			content: `
settings:
  logLevel: verbose
buses:
  - bus: battery
    interface: can0
    signalMap: m.yaml
    enabled: true
`,
		},
		{
			name: "BadDrainInterval",
			content: `
buses:
  - bus: battery
    interface: can0
    signalMap: m.yaml
    enabled: true
logging:
  enabled: true
  dataDirectory: /data
  drainInterval: soon
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
