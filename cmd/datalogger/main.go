package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/helios-ev/bms-datalogger/cmd/datalogger/app"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "", "Path to the datalogger configuration file")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: datalogger -c <config.yaml>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if configPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	config, err := app.LoadConfig(configPath)
	if err != nil {
		logger.Error("failed to load configuration", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	// The level is validated as part of config loading.
	level, _ := config.Settings.Level()
	logLevel.Set(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())

		stop()
		os.Exit(1)
	}
}
