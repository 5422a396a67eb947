package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
	"github.com/helios-ev/bms-datalogger/internal/ingest"
	"github.com/helios-ev/bms-datalogger/internal/storage"
	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

const catalogFileName = "sessions.db"

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	buffer, err := telemetry.NewBuffer(config.Layout, config.Telemetry.RingCapacity)
	if err != nil {
		return fmt.Errorf("failed to create telemetry buffer: %w", err)
	}

	collector := ingest.NewCollector(buffer, ingest.WithLogger(logger))

	var options []func(*Orchestrator)
	if config.Logging.Enabled {
		dataDir, err := resolveDataDirectory(config.Logging.DataDirectory)
		if err != nil {
			return err
		}

		catalog := storage.NewCatalog(filepath.Join(dataDir, catalogFileName))
		defer catalog.Close()

		options = append(options, WithRecording(catalog, dataDir, time.Duration(config.Logging.DrainInterval)))
	}

	orchestrator := NewOrchestrator(collector, logger, options...)

	for _, busConfig := range config.Buses {
		if !busConfig.Enabled {
			continue
		}

		var decoder canbus.Decoder
		if busConfig.SignalMap != "" {
			if decoder, err = canbus.LoadSignalMap(busConfig.SignalMap); err != nil {
				return fmt.Errorf("failed to load signal map for %s bus: %w", busConfig.Bus, err)
			}
		}

		reader := canbus.NewReader(busConfig.Bus, busConfig.Interface, canbus.WithLogger(logger))
		orchestrator.AddReader(reader, decoder)
	}

	return orchestrator.Run(ctx)
}

func resolveDataDirectory(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("data directory '%s' does not exist: %w", dir, err)
		}
		return "", fmt.Errorf("checking data directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return "", fmt.Errorf("invalid data directory '%s'", dir)
	}

	return dir, nil
}
